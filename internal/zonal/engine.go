// Package zonal computes cached zonal statistics of datalayers over stands.
package zonal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/metric"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/geo"
	"github.com/silvaplan/silvaplan/internal/port/database"
	"github.com/silvaplan/silvaplan/internal/port/raster"
)

// Engine computes zonal statistics with a write-through StandMetric cache.
// A (stand, layer) row whose requested columns are already populated is
// never recomputed; the raster is only touched for the remainder.
type Engine struct {
	metrics   database.MetricStore
	catalogue raster.Catalogue
	logger    *slog.Logger
}

// NewEngine creates a zonal engine.
func NewEngine(metrics database.MetricStore, catalogue raster.Catalogue, logger *slog.Logger) *Engine {
	return &Engine{metrics: metrics, catalogue: catalogue, logger: logger}
}

// Compute returns one StandMetric per input stand with the requested
// aggregations populated, ordered by stand ID. Cached rows are served as-is;
// the rest are computed from a single window read covering them and merged
// back into the cache.
func (e *Engine) Compute(ctx context.Context, layer *datalayer.DataLayer, stands []*stand.Stand, aggs []metric.Aggregation) ([]*metric.StandMetric, error) {
	if len(aggs) == 0 {
		return nil, fmt.Errorf("no aggregations requested: %w", domain.ErrInvalidInput)
	}
	for _, a := range aggs {
		if !a.Valid() {
			return nil, fmt.Errorf("aggregation %q: %w", a, domain.ErrInvalidInput)
		}
	}
	if layer.Type != datalayer.TypeRaster {
		return nil, fmt.Errorf("datalayer %q is %s: %w", layer.Name, layer.Type, domain.ErrInvalidInput)
	}
	if len(stands) == 0 {
		return []*metric.StandMetric{}, nil
	}

	ids := make([]int64, len(stands))
	for i, s := range stands {
		ids[i] = s.ID
	}
	cached, err := e.metrics.MetricsFor(ctx, layer.ID, ids)
	if err != nil {
		return nil, err
	}
	byStand := make(map[int64]*metric.StandMetric, len(cached))
	for _, m := range cached {
		byStand[m.StandID] = m
	}

	var missing []*stand.Stand
	for _, s := range stands {
		if m, ok := byStand[s.ID]; !ok || !m.Covers(aggs) {
			missing = append(missing, s)
		}
	}

	if len(missing) > 0 {
		if err := e.computeMissing(ctx, layer, missing, aggs, byStand); err != nil {
			return nil, err
		}
	}

	result := make([]*metric.StandMetric, 0, len(stands))
	for _, s := range stands {
		result = append(result, byStand[s.ID])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StandID < result[j].StandID })
	return result, nil
}

func (e *Engine) computeMissing(ctx context.Context, layer *datalayer.DataLayer, stands []*stand.Stand, aggs []metric.Aggregation, byStand map[int64]*metric.StandMetric) error {
	ds, err := e.catalogue.Open(ctx, layer)
	if err != nil {
		return err
	}
	defer func() { _ = ds.Close() }()

	gs := make([]geom.Geom, len(stands))
	for i, s := range stands {
		gs[i] = s.Geometry
	}
	grid, err := ds.ReadBounds(ctx, geo.TotalBounds(gs...))
	if err != nil {
		return err
	}

	fresh := make([]*metric.StandMetric, 0, len(stands))
	for _, s := range stands {
		m, ok := byStand[s.ID]
		if !ok {
			m = &metric.StandMetric{StandID: s.ID, DataLayerID: layer.ID}
			byStand[s.ID] = m
		}
		acc := newAccumulator()
		forEachPixel(grid, s.Geometry, func(v float64) { acc.add(v) })
		acc.fill(m, aggs)
		fresh = append(fresh, m)
	}

	if e.logger != nil {
		e.logger.Debug("zonal stats computed",
			"layer", layer.Name, "stands", len(fresh), "aggs", len(aggs))
	}
	return e.metrics.UpsertMetrics(ctx, fresh, aggs)
}

// forEachPixel visits every valid pixel whose center lies inside poly.
func forEachPixel(g *raster.Grid, poly geom.Polygonal, visit func(v float64)) {
	b := poly.Bounds()

	// Restrict the scan to the polygon's bounding box within the window.
	c0 := int(math.Floor((b.Min.X - g.OriginX) / g.Dx))
	c1 := int(math.Ceil((b.Max.X - g.OriginX) / g.Dx))
	r0, r1 := rowRange(g, b)
	c0, c1 = clamp(c0, 0, g.Cols()), clamp(c1, 0, g.Cols())

	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			v, ok := g.Value(r, c)
			if !ok {
				continue
			}
			if g.CellCenter(r, c).Within(poly) == geom.Inside {
				visit(v)
			}
		}
	}
}

func rowRange(g *raster.Grid, b *geom.Bounds) (int, int) {
	// Dy is negative for north-up windows, so Max.Y maps to the low row.
	ra := (b.Max.Y - g.OriginY) / g.Dy
	rb := (b.Min.Y - g.OriginY) / g.Dy
	if ra > rb {
		ra, rb = rb, ra
	}
	return clamp(int(math.Floor(ra)), 0, g.Rows()), clamp(int(math.Ceil(rb)), 0, g.Rows())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
