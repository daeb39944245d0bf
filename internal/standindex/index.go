// Package standindex serves stand lookups by size and geometry from an
// in-memory spatial index over the immutable hex grids.
package standindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/port/database"
)

// Index answers "which stands of size S lie within this area" without
// touching the database after the first query per size. Stands are
// immutable, so loaded trees are never invalidated.
type Index struct {
	store  database.StandStore
	logger *slog.Logger

	mu    sync.Mutex
	trees map[stand.Size]*sizeTree
}

type sizeTree struct {
	tree   *rtree.Rtree
	byID   map[int64]*stand.Stand
	loaded bool
}

type standSpatial struct {
	s *stand.Stand
}

func (ss standSpatial) Bounds() *geom.Bounds {
	return ss.s.Geometry.Bounds()
}

func (ss standSpatial) Similar(g geom.Geom, tolerance float64) bool {
	return ss.s.Geometry.Similar(g, tolerance)
}

func (ss standSpatial) Transform(t proj.Transformer) (geom.Geom, error) {
	return ss.s.Geometry.Transform(t)
}

func (ss standSpatial) Len() int {
	return ss.s.Geometry.Len()
}

func (ss standSpatial) Points() func() geom.Point {
	return ss.s.Geometry.Points()
}

// New creates an index backed by the given stand store.
func New(store database.StandStore, logger *slog.Logger) *Index {
	return &Index{
		store:  store,
		logger: logger,
		trees:  make(map[stand.Size]*sizeTree),
	}
}

// StandsWithin returns the stands of the given size whose representative
// point (the centroid; hex cells are convex) lies inside area, ordered by
// ascending ID. Non-polygonal areas are rejected.
func (ix *Index) StandsWithin(ctx context.Context, size stand.Size, area geom.Geom) ([]*stand.Stand, error) {
	poly, ok := area.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("area geometry %T: %w", area, domain.ErrInvalidInput)
	}
	if !size.Valid() {
		return nil, fmt.Errorf("stand size %q: %w", size, domain.ErrInvalidInput)
	}

	st, err := ix.load(ctx, size)
	if err != nil {
		return nil, err
	}

	var result []*stand.Stand
	for _, item := range st.tree.SearchIntersect(area.Bounds()) {
		s := item.(standSpatial).s
		if s.Centroid().Within(poly) == geom.Inside {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Stand returns a single stand of the given size by ID.
func (ix *Index) Stand(ctx context.Context, size stand.Size, id int64) (*stand.Stand, error) {
	st, err := ix.load(ctx, size)
	if err != nil {
		return nil, err
	}
	s, ok := st.byID[id]
	if !ok {
		return nil, fmt.Errorf("stand %d (%s): %w", id, size, domain.ErrNotFound)
	}
	return s, nil
}

func (ix *Index) load(ctx context.Context, size stand.Size) (*sizeTree, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if st, ok := ix.trees[size]; ok && st.loaded {
		return st, nil
	}

	stands, err := ix.store.StandsBySize(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("load %s stands: %w", size, err)
	}

	st := &sizeTree{
		tree: rtree.NewTree(25, 50),
		byID: make(map[int64]*stand.Stand, len(stands)),
	}
	for _, s := range stands {
		st.tree.Insert(standSpatial{s: s})
		st.byID[s.ID] = s
	}
	st.loaded = true
	ix.trees[size] = st

	if ix.logger != nil {
		ix.logger.Info("stand index loaded", "size", size, "stands", len(stands))
	}
	return st, nil
}
