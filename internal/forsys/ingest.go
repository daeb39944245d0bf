package forsys

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ctessum/geom"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/projectarea"
	"github.com/silvaplan/silvaplan/internal/domain/scenario"
	"github.com/silvaplan/silvaplan/internal/geo"
	"github.com/silvaplan/silvaplan/internal/standindex"
)

// IngestStore is the slice of the persistence surface the ingestor needs.
type IngestStore interface {
	ReplaceProjectAreas(ctx context.Context, scenarioID int64, areas []*projectarea.ProjectArea) error
}

// Ingestor persists optimizer output, snapping each project area to stand
// boundaries by unioning its member stand polygons.
type Ingestor struct {
	store  IngestStore
	index  *standindex.Index
	logger *slog.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(store IngestStore, index *standindex.Index, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, index: index, logger: logger}
}

// Ingest replaces the scenario's project areas with the optimizer output.
// Prior areas from earlier runs are deleted in the same transaction, so the
// net state equals a single run. An empty output is infeasible.
func (in *Ingestor) Ingest(ctx context.Context, sc *scenario.Scenario, out *Output) ([]*projectarea.ProjectArea, error) {
	if len(out.ProjectAreas) == 0 {
		return nil, fmt.Errorf("optimizer produced no project areas: %w", domain.ErrOptimizerInfeasible)
	}

	size := sc.Configuration.StandSize
	areas := make([]*projectarea.ProjectArea, 0, len(out.ProjectAreas))
	for _, oa := range out.ProjectAreas {
		if len(oa.StandIDs) == 0 {
			return nil, fmt.Errorf("project area %q has no stands: %w",
				oa.Name, domain.ErrOptimizerPanic)
		}
		polys := make([]geom.Polygon, 0, len(oa.StandIDs))
		for _, id := range oa.StandIDs {
			s, err := in.index.Stand(ctx, size, id)
			if err != nil {
				return nil, fmt.Errorf("project area %q references unknown stand %d: %w",
					oa.Name, id, domain.ErrOptimizerPanic)
			}
			polys = append(polys, s.Geometry)
		}
		areas = append(areas, &projectarea.ProjectArea{
			ScenarioID: sc.ID,
			Name:       oa.Name,
			Geometry:   geo.UnionPolygons(polys),
			Data:       oa.Data,
			StandIDs:   oa.StandIDs,
		})
	}

	if err := in.store.ReplaceProjectAreas(ctx, sc.ID, areas); err != nil {
		return nil, err
	}
	in.logger.Info("project areas ingested", "scenario", sc.ID, "areas", len(areas))
	return areas, nil
}
