package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/silvaplan/silvaplan/internal/domain"
	"github.com/silvaplan/silvaplan/internal/domain/datalayer"
	"github.com/silvaplan/silvaplan/internal/domain/stand"
	"github.com/silvaplan/silvaplan/internal/geo"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks pool health.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- Stands ---

func (s *Store) CreateStands(ctx context.Context, stands []*stand.Stand) error {
	if len(stands) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range stands {
		gj, err := geomJSON(st.Geometry)
		if err != nil {
			return fmt.Errorf("stand geometry: %w", err)
		}
		batch.Queue(
			`INSERT INTO stands (size, geometry, area_m2)
			 VALUES ($1, $2, $3)`,
			st.Size, gj, st.AreaM2)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range stands {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert stand: %w", err)
		}
	}
	return nil
}

func (s *Store) StandsBySize(ctx context.Context, size stand.Size) ([]*stand.Stand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, size, geometry, area_m2, created_at, updated_at
		 FROM stands WHERE size = $1 ORDER BY id`, size)
	if err != nil {
		return nil, fmt.Errorf("list stands by size: %w", err)
	}
	defer rows.Close()
	return scanStands(rows)
}

func (s *Store) StandsByID(ctx context.Context, ids []int64) ([]*stand.Stand, error) {
	if len(ids) == 0 {
		return []*stand.Stand{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, size, geometry, area_m2, created_at, updated_at
		 FROM stands WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list stands by id: %w", err)
	}
	defer rows.Close()
	return scanStands(rows)
}

func scanStands(rows pgx.Rows) ([]*stand.Stand, error) {
	var result []*stand.Stand
	for rows.Next() {
		st, err := scanStand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return orEmpty(result), rows.Err()
}

func scanStand(row scannable) (*stand.Stand, error) {
	var st stand.Stand
	var gj []byte
	if err := row.Scan(&st.ID, &st.Size, &gj, &st.AreaM2, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan stand: %w", err)
	}
	g, err := geo.UnmarshalPolygon(gj)
	if err != nil {
		return nil, fmt.Errorf("stand %d geometry: %w", st.ID, err)
	}
	st.Geometry = g
	return &st, nil
}

// --- DataLayers ---

const datalayerCols = `id, name, type, url, nodata, info, modules, created_at, updated_at`

func (s *Store) CreateDataLayer(ctx context.Context, dl *datalayer.DataLayer) error {
	info, err := json.Marshal(dl.Info)
	if err != nil {
		return fmt.Errorf("marshal layer info: %w", err)
	}
	modules, err := json.Marshal(dl.Modules)
	if err != nil {
		return fmt.Errorf("marshal layer modules: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO datalayers (name, type, url, nodata, info, modules)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		dl.Name, dl.Type, dl.URL, dl.NoData, info, modules,
	).Scan(&dl.ID, &dl.CreatedAt, &dl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create datalayer %q: %w", dl.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create datalayer %q: %w", dl.Name, err)
	}
	return nil
}

func (s *Store) DataLayer(ctx context.Context, id int64) (*datalayer.DataLayer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+datalayerCols+` FROM datalayers WHERE id = $1`, id)
	dl, err := scanDataLayer(row)
	if err != nil {
		return nil, notFoundWrap(err, "get datalayer %d", id)
	}
	return dl, nil
}

func (s *Store) DataLayersByID(ctx context.Context, ids []int64) ([]*datalayer.DataLayer, error) {
	if len(ids) == 0 {
		return []*datalayer.DataLayer{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+datalayerCols+` FROM datalayers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list datalayers: %w", err)
	}
	defer rows.Close()
	return scanDataLayers(rows)
}

func (s *Store) ImpactsLayers(ctx context.Context, f datalayer.ImpactsFilter) ([]*datalayer.DataLayer, error) {
	// Tag filtering happens in memory; the impacts catalogue is small and
	// the modules column is opaque jsonb.
	rows, err := s.pool.Query(ctx,
		`SELECT `+datalayerCols+` FROM datalayers
		 WHERE modules ? 'impacts' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list impacts layers: %w", err)
	}
	defer rows.Close()
	all, err := scanDataLayers(rows)
	if err != nil {
		return nil, err
	}
	matched := make([]*datalayer.DataLayer, 0, len(all))
	for _, dl := range all {
		if f.Matches(dl) {
			matched = append(matched, dl)
		}
	}
	return matched, nil
}

func scanDataLayers(rows pgx.Rows) ([]*datalayer.DataLayer, error) {
	var result []*datalayer.DataLayer
	for rows.Next() {
		dl, err := scanDataLayer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, dl)
	}
	return orEmpty(result), rows.Err()
}

func scanDataLayer(row scannable) (*datalayer.DataLayer, error) {
	var dl datalayer.DataLayer
	var info, modules []byte
	if err := row.Scan(&dl.ID, &dl.Name, &dl.Type, &dl.URL, &dl.NoData,
		&info, &modules, &dl.CreatedAt, &dl.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(info, &dl.Info); err != nil {
		return nil, fmt.Errorf("decode layer %d info: %w", dl.ID, err)
	}
	if err := json.Unmarshal(modules, &dl.Modules); err != nil {
		return nil, fmt.Errorf("decode layer %d modules: %w", dl.ID, err)
	}
	return &dl, nil
}
