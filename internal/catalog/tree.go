// Package catalog builds the directory/job/transformation tree from repository
// rows and answers path and search queries against the latest snapshot.
package catalog

import (
	"sort"
	"strings"
	"time"

	"kettleplane/internal/runnable"
	"kettleplane/internal/store"
)

// RootID is the id of the synthetic root directory.
const RootID int64 = -1

// RootName is used for the synthetic root and for directory rows without a name.
const RootName = "ROOT"

// ArtifactRef points at a job or transformation. Names are unique per directory and kind only.
type ArtifactRef struct {
	Name        string
	DirectoryID int64
	Kind        runnable.Kind
}

// Node is one directory in the arena. Children are referenced by id.
type Node struct {
	ID              int64
	Name            string
	ParentID        int64 // 0 on the root only
	SubfolderIDs    []int64
	Jobs            []ArtifactRef
	Transformations []ArtifactRef
}

// IsRoot reports whether n is the synthetic root.
func (n *Node) IsRoot() bool {
	return n.ID == RootID
}

// Tree is an immutable snapshot of the catalog.
type Tree struct {
	nodes     map[int64]*Node
	artifacts int
	builtAt   time.Time
}

// Build assembles a tree from flat rows. Directories whose parent is 0 hang off
// the root. Directories whose parent does not resolve, or whose parent chain
// loops, are reparented to the root. Artifacts in unknown directories are
// attached to the root.
func Build(rows *store.CatalogRows, builtAt time.Time) *Tree {
	t := &Tree{
		nodes:   make(map[int64]*Node, len(rows.Directories)+1),
		builtAt: builtAt,
	}
	t.nodes[RootID] = &Node{ID: RootID, Name: RootName}

	for _, d := range rows.Directories {
		if d.ID == RootID {
			continue
		}
		name := d.Name
		if name == "" {
			name = RootName
		}
		parent := d.ParentID
		if parent == 0 {
			parent = RootID
		}
		t.nodes[d.ID] = &Node{ID: d.ID, Name: name, ParentID: parent}
	}

	ids := t.sortedIDs()
	t.repairParents(ids)

	for _, id := range ids {
		n := t.nodes[id]
		parent := t.nodes[n.ParentID]
		parent.SubfolderIDs = append(parent.SubfolderIDs, id)
	}
	for _, n := range t.nodes {
		sort.SliceStable(n.SubfolderIDs, func(i, j int) bool {
			return t.nodes[n.SubfolderIDs[i]].Name < t.nodes[n.SubfolderIDs[j]].Name
		})
	}

	attach := func(a store.ArtifactRow, kind runnable.Kind) {
		dir := a.DirectoryID
		if _, ok := t.nodes[dir]; !ok || dir == 0 {
			dir = RootID
		}
		ref := ArtifactRef{Name: a.Name, DirectoryID: dir, Kind: kind}
		n := t.nodes[dir]
		if kind == runnable.Job {
			n.Jobs = append(n.Jobs, ref)
		} else {
			n.Transformations = append(n.Transformations, ref)
		}
		t.artifacts++
	}
	for _, j := range rows.Jobs {
		attach(j, runnable.Job)
	}
	for _, tr := range rows.Transformations {
		attach(tr, runnable.Transformation)
	}

	return t
}

// repairParents points every node whose ancestry does not reach the root at
// the root instead.
func (t *Tree) repairParents(ids []int64) {
	for _, id := range ids {
		seen := map[int64]bool{}
		cur := t.nodes[id]
		for !cur.IsRoot() {
			seen[cur.ID] = true
			parent, ok := t.nodes[cur.ParentID]
			if !ok || seen[parent.ID] {
				cur.ParentID = RootID
				break
			}
			cur = parent
		}
	}
}

func (t *Tree) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.nodes))
	for id := range t.nodes {
		if id != RootID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Node returns the directory with the given id.
func (t *Tree) Node(id int64) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Root returns the synthetic root.
func (t *Tree) Root() *Node {
	return t.nodes[RootID]
}

// Len returns the number of directories, root included.
func (t *Tree) Len() int { return len(t.nodes) }

// ArtifactCount returns the number of jobs and transformations.
func (t *Tree) ArtifactCount() int { return t.artifacts }

// BuiltAt returns when the snapshot was assembled.
func (t *Tree) BuiltAt() time.Time { return t.builtAt }

// ResolvePath joins directory names from the root down to id.
// Unknown ids and the root resolve to "/".
func (t *Tree) ResolvePath(id int64) string {
	n, ok := t.nodes[id]
	if !ok || n.IsRoot() {
		return "/"
	}

	// Collect names leaf to top. The walk is bounded by the node count.
	var names []string
	for steps := 0; !n.IsRoot() && steps < len(t.nodes); steps++ {
		names = append(names, n.Name)
		parent, ok := t.nodes[n.ParentID]
		if !ok {
			break
		}
		n = parent
	}

	path := "/" + names[len(names)-1]
	for i := len(names) - 2; i >= 0; i-- {
		path += "/" + names[i]
	}
	return collapseSlashes(path)
}

// collapseSlashes squeezes runs of "/" so directory names that carry their own
// separators do not produce "//" in the joined path.
func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// Search matches term case-insensitively against every job and transformation
// name. Exact matches come first, then prefix matches, then substring matches;
// each group is sorted by name.
func (t *Tree) Search(term string) []ArtifactRef {
	q := strings.ToLower(strings.TrimSpace(term))
	if q == "" {
		return nil
	}

	var exact, prefix, contains []ArtifactRef
	classify := func(ref ArtifactRef) {
		name := strings.ToLower(ref.Name)
		switch {
		case name == q:
			exact = append(exact, ref)
		case strings.HasPrefix(name, q):
			prefix = append(prefix, ref)
		case strings.Contains(name, q):
			contains = append(contains, ref)
		}
	}

	for _, n := range t.nodes {
		for _, ref := range n.Jobs {
			classify(ref)
		}
		for _, ref := range n.Transformations {
			classify(ref)
		}
	}

	for _, bucket := range [][]ArtifactRef{exact, prefix, contains} {
		sortRefs(bucket)
	}

	out := make([]ArtifactRef, 0, len(exact)+len(prefix)+len(contains))
	out = append(out, exact...)
	out = append(out, prefix...)
	return append(out, contains...)
}

// sortRefs orders by name, then kind and directory so results are deterministic
// across map iteration.
func sortRefs(refs []ArtifactRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].DirectoryID < refs[j].DirectoryID
	})
}
