package handlers

import (
	"net/http"

	"kettleplane/internal/catalog"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"
)

// RefreshCatalog handles POST /catalog/refresh.
func (h *Handlers) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Catalog.Fetch(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.RefreshResponse{
		Directories: tree.Len(),
		Artifacts:   tree.ArtifactCount(),
		BuiltAt:     tree.BuiltAt(),
	})
}

// GetDirectory handles GET /catalog/dirs/{id}. The root is id -1.
func (h *Handlers) GetDirectory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.httpError(w, "Invalid directory id", http.StatusBadRequest)
		return
	}

	node, tree, err := h.Catalog.Node(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.DirectoryResponse{
		ID:              node.ID,
		Name:            node.Name,
		Path:            tree.ResolvePath(node.ID),
		Subfolders:      make([]api.DirectorySummary, 0, len(node.SubfolderIDs)),
		Jobs:            artifactResponses(tree, node.Jobs),
		Transformations: artifactResponses(tree, node.Transformations),
	}
	if !node.IsRoot() {
		parent := node.ParentID
		resp.ParentID = &parent
	}
	for _, sub := range node.SubfolderIDs {
		if child, ok := tree.Node(sub); ok {
			resp.Subfolders = append(resp.Subfolders, api.DirectorySummary{ID: child.ID, Name: child.Name})
		}
	}

	h.respondJson(w, http.StatusOK, resp)
}

// searchTarget is the audit target of repository name searches.
const searchTarget = "REPO"

// SearchCatalog handles GET /catalog/search?q=.
func (h *Handlers) SearchCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query().Get("q")

	refs, err := h.Catalog.Search(ctx, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.SearchResponse{Query: q, Results: make([]api.ArtifactResponse, 0, len(refs))}
	for _, ref := range refs {
		resp.Results = append(resp.Results, api.ArtifactResponse{
			Name:        ref.Name,
			Kind:        ref.Kind.String(),
			DirectoryID: ref.DirectoryID,
			Path:        h.Catalog.ResolvePath(ctx, ref.DirectoryID),
		})
	}

	h.audit(ctx, store.ActionSearch, searchTarget, q)
	h.respondJson(w, http.StatusOK, resp)
}

func artifactResponses(tree *catalog.Tree, refs []catalog.ArtifactRef) []api.ArtifactResponse {
	out := make([]api.ArtifactResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, api.ArtifactResponse{
			Name:        ref.Name,
			Kind:        ref.Kind.String(),
			DirectoryID: ref.DirectoryID,
			Path:        tree.ResolvePath(ref.DirectoryID),
		})
	}
	return out
}
