package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"kettleplane/internal/errs"
	"kettleplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey     = "catalog"
	refreshTimeout = 30 * time.Second
)

// Index holds the current catalog snapshot. Readers never block: they see the
// last successful refresh. Refreshes are single-writer; concurrent Fetch calls
// share one in-flight load.
type Index struct {
	store  store.CatalogStore
	logger *zap.Logger
	now    func() time.Time

	snapshot atomic.Pointer[Tree]
	group    singleflight.Group

	refreshDuration metric.Float64Histogram
}

// New creates an empty index. Nothing is loaded until the first Fetch.
func New(s store.CatalogStore, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Index{store: s, logger: logger, now: time.Now}

	meter := otel.Meter("kettleplane/catalog")
	hist, err := meter.Float64Histogram("kettleplane.catalog.refresh.duration",
		metric.WithDescription("Time spent loading the catalog from the repository"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to register catalog refresh metric", zap.Error(err))
	}
	ix.refreshDuration = hist

	return ix
}

// Fetch reloads the catalog and swaps it in wholesale. On any read error it
// returns ErrCatalogUnavailable and no tree; the previous snapshot stays in
// place for readers.
func (ix *Index) Fetch(ctx context.Context) (*Tree, error) {
	v, err, shared := ix.group.Do(refreshKey, func() (interface{}, error) {
		// The load outlives any single caller so joined callers are not
		// failed by the first one going away.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return ix.refresh(loadCtx)
	})
	if shared {
		ix.logger.Debug("joined in-flight catalog refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

func (ix *Index) refresh(ctx context.Context) (*Tree, error) {
	start := ix.now()
	rows, err := ix.store.LoadCatalog(ctx)
	ix.recordRefresh(ctx, start, err)
	if err != nil {
		ix.logger.Error("catalog refresh failed", zap.Error(err))
		return nil, errs.E("fetch catalog", errs.ErrCatalogUnavailable, "", err)
	}

	tree := Build(rows, ix.now())
	ix.snapshot.Store(tree)

	ix.logger.Info("catalog refreshed",
		zap.Int("directories", tree.Len()),
		zap.Int("artifacts", tree.ArtifactCount()),
		zap.Duration("took", ix.now().Sub(start)),
	)
	return tree, nil
}

func (ix *Index) recordRefresh(ctx context.Context, start time.Time, err error) {
	if ix.refreshDuration == nil {
		return
	}
	ix.refreshDuration.Record(ctx, ix.now().Sub(start).Seconds(),
		metric.WithAttributes(attribute.Bool("ok", err == nil)))
}

// Snapshot returns the last successfully fetched tree, or nil.
func (ix *Index) Snapshot() *Tree {
	return ix.snapshot.Load()
}

// current returns the snapshot, fetching once if none exists yet.
func (ix *Index) current(ctx context.Context) (*Tree, error) {
	if t := ix.snapshot.Load(); t != nil {
		return t, nil
	}
	return ix.Fetch(ctx)
}

// ResolvePath returns the slash-joined directory path of id. It falls back to
// "/" for unknown ids and when no catalog can be loaded.
func (ix *Index) ResolvePath(ctx context.Context, id int64) string {
	t, err := ix.current(ctx)
	if err != nil {
		return "/"
	}
	return t.ResolvePath(id)
}

// Search ranks artifacts in the current snapshot by how well their name matches term.
func (ix *Index) Search(ctx context.Context, term string) ([]ArtifactRef, error) {
	t, err := ix.current(ctx)
	if err != nil {
		return nil, err
	}
	return t.Search(term), nil
}

// Node returns one directory of the current snapshot.
func (ix *Index) Node(ctx context.Context, id int64) (*Node, *Tree, error) {
	t, err := ix.current(ctx)
	if err != nil {
		return nil, nil, err
	}
	n, ok := t.Node(id)
	if !ok {
		return nil, t, errs.E("catalog node", errs.ErrNotFound, "directory not in catalog", nil)
	}
	return n, t, nil
}
