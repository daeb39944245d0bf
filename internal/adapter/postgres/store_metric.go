package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/silvaplan/silvaplan/internal/domain/metric"
)

func (s *Store) MetricsFor(ctx context.Context, layerID int64, standIDs []int64) ([]*metric.StandMetric, error) {
	if len(standIDs) == 0 {
		return []*metric.StandMetric{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT stand_id, datalayer_id, min, avg, max, sum, count, majority, minority, created_at, updated_at
		 FROM stand_metrics WHERE datalayer_id = $1 AND stand_id = ANY($2) ORDER BY stand_id`,
		layerID, standIDs)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var result []*metric.StandMetric
	for rows.Next() {
		var m metric.StandMetric
		if err := rows.Scan(&m.StandID, &m.DataLayerID, &m.Min, &m.Avg, &m.Max, &m.Sum,
			&m.Count, &m.Majority, &m.Minority, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		result = append(result, &m)
	}
	return orEmpty(result), rows.Err()
}

// UpsertMetrics merges freshly computed statistics into the cache. Only the
// requested aggregation columns (plus count, which every compute produces)
// are written, so columns computed by earlier requests survive.
func (s *Store) UpsertMetrics(ctx context.Context, rows []*metric.StandMetric, aggs []metric.Aggregation) error {
	if len(rows) == 0 {
		return nil
	}

	cols := upsertColumns(aggs)
	query := buildMetricUpsert(cols)

	batch := &pgx.Batch{}
	for _, m := range rows {
		args := make([]any, 0, len(cols)+2)
		args = append(args, m.StandID, m.DataLayerID)
		for _, c := range cols {
			args = append(args, m.Value(metric.Aggregation(c)))
		}
		batch.Queue(query, args...)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert metric: %w", err)
		}
	}
	return nil
}

// upsertColumns returns the distinct column names to write, always
// including count.
func upsertColumns(aggs []metric.Aggregation) []string {
	seen := map[string]bool{"count": true}
	cols := []string{"count"}
	for _, a := range aggs {
		c := string(a)
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

func buildMetricUpsert(cols []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO stand_metrics (stand_id, datalayer_id")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(c)
	}
	b.WriteString(") VALUES ($1, $2")
	for i := range cols {
		fmt.Fprintf(&b, ", $%d", i+3)
	}
	b.WriteString(") ON CONFLICT (stand_id, datalayer_id) DO UPDATE SET ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", c, c)
	}
	b.WriteString(", updated_at = NOW()")
	return b.String()
}
