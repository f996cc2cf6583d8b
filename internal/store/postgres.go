package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/db"
	"github.com/sells-group/mgci/internal/model"
)

// PostgresStore implements Store on a pgx pool. Tables live in the mgci
// schema next to the region catalog.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// preparedStatements are prepared on every new pool connection.
var preparedStatements = map[string]string{
	"insert_run":                `INSERT INTO mgci.runs (id, kind, status, request, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"complete_run":              `UPDATE mgci.runs SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
	"fail_run":                  `UPDATE mgci.runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":                   `SELECT id, kind, status, request, result, error, created_at, updated_at FROM mgci.runs WHERE id = $1`,
	"get_cached_reduction":      `SELECT key, value, valid, cached_at, expires_at FROM mgci.reduction_cache WHERE key = $1 AND expires_at > now()`,
	"set_cached_reduction":      `INSERT INTO mgci.reduction_cache (key, value, valid, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, valid = EXCLUDED.valid, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
	"delete_expired_reductions": `DELETE FROM mgci.reduction_cache WHERE expires_at <= now()`,
}

func prepareStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range preparedStatements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return eris.Wrapf(err, "postgres: prepare %s", name)
		}
	}
	return nil
}

// NewPostgres connects a pool and returns a PostgresStore that owns it.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg, prepareStatements)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	s := NewPostgresWithPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresWithPool wraps a pool owned by the caller.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Pool returns the underlying pool for the region catalog and imports.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS mgci;

CREATE TABLE IF NOT EXISTS mgci.runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	request    JSONB NOT NULL,
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON mgci.runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_status ON mgci.runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON mgci.runs(created_at DESC);

CREATE TABLE IF NOT EXISTS mgci.reduction_cache (
	key        TEXT PRIMARY KEY,
	value      DOUBLE PRECISION NOT NULL,
	valid      BOOLEAN NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reduction_cache_expires_at ON mgci.reduction_cache(expires_at);

CREATE TABLE IF NOT EXISTS mgci.regions (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	level     INTEGER NOT NULL DEFAULT 0,
	parent_id TEXT NOT NULL DEFAULT '',
	geom      geometry(MultiPolygon, 4326) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_regions_parent ON mgci.regions(parent_id);
CREATE INDEX IF NOT EXISTS idx_regions_geom ON mgci.regions USING GIST (geom);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, request any) (*model.Run, error) {
	req, err := json.Marshal(request)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run request")
	}
	r := &model.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.RunStatusRunning,
		Request:   req,
		CreatedAt: s.now(),
	}
	r.UpdatedAt = r.CreatedAt

	_, err = s.pool.Exec(ctx, preparedStatements["insert_run"],
		r.ID, string(r.Kind), string(r.Status), req, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result any) error {
	out, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run result")
	}
	tag, err := s.pool.Exec(ctx, preparedStatements["complete_run"],
		string(model.RunStatusComplete), out, s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrRunNotFound, "postgres: complete run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, msg string) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["fail_run"],
		string(model.RunStatusFailed), msg, s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrRunNotFound, "postgres: fail run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, preparedStatements["get_run"], runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrRunNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, status, request, result, error, created_at, updated_at FROM mgci.runs WHERE true`
	args := []any{}

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r               model.Run
		kind, status    string
		request, result []byte
	)
	if err := row.Scan(&r.ID, &kind, &status, &request, &result, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)
	r.Request = request
	if len(result) > 0 {
		r.Result = result
	}
	return &r, nil
}

func (s *PostgresStore) GetCachedReduction(ctx context.Context, key string) (*model.CachedReduction, error) {
	var c model.CachedReduction
	err := s.pool.QueryRow(ctx, preparedStatements["get_cached_reduction"], key).
		Scan(&c.Key, &c.Value, &c.Valid, &c.CachedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached reduction")
	}
	return &c, nil
}

func (s *PostgresStore) SetCachedReduction(ctx context.Context, key string, value float64, valid bool, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, preparedStatements["set_cached_reduction"], key, value, valid, now, now.Add(ttl))
	return eris.Wrap(err, "postgres: set cached reduction")
}

func (s *PostgresStore) DeleteExpiredReductions(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, preparedStatements["delete_expired_reductions"])
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired reductions")
	}
	return int(tag.RowsAffected()), nil
}
