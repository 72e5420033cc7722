// Package sqlite implements windlass.Repository using pure-Go SQLite.
// Grounded on oasis store/sqlite/sqlite.go: a single shared *sql.DB with
// SetMaxOpenConns(1) so all goroutines serialize through one connection,
// StoreOption/WithLogger functional options, a nopLogger default, and
// debug/error logging with timing around entity upserts. Unlike oasis's one
// concrete method set per domain kind, each persisted entity kind here
// is stored as a JSON blob row (id, tenant, data, created_at, updated_at)
// behind the shared windlass.EntityStore[T] contract, so one small set of
// SQL statements backs ApiConfig/ExtractConfig/TransformConfig/Workflow.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/windlass-dev/windlass"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite-backed Repository.
type StoreOption func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets a structured logger. When set, the store logs opening the
// database and each entity Upsert (with its duration) at debug level, and a
// failed Upsert at error level; other operations are not logged. If not
// set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(c *config) { c.logger = l }
}

// nopLogger discards all output; it is the default when WithLogger is unset.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New opens a local SQLite file at dbPath and returns a windlass.Repository
// backed by it. A single connection (SetMaxOpenConns(1)) serializes every
// goroutine through one *sql.DB, eliminating SQLITE_BUSY from concurrent
// writers opening independent connections.
func New(dbPath string, opts ...StoreOption) (*windlass.Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	cfg := config{logger: nopLogger}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.logger.Debug("sqlite: store opened", "path", dbPath)

	return &windlass.Repository{
		Workflows:  &entityStore[windlass.Workflow]{db: db, logger: cfg.logger, table: "workflows"},
		Apis:       &entityStore[windlass.ApiConfig]{db: db, logger: cfg.logger, table: "api_configs"},
		Extracts:   &entityStore[windlass.ExtractConfig]{db: db, logger: cfg.logger, table: "extract_configs"},
		Transforms: &entityStore[windlass.TransformConfig]{db: db, logger: cfg.logger, table: "transform_configs"},
		Runs:       &runStore{db: db, logger: cfg.logger},
		Tenants:    &tenantStore{db: db, logger: cfg.logger},
		Init:       func(ctx context.Context) error { return initSchema(ctx, db) },
		Close:      db.Close,
	}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extract_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transform_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_results (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			config_id TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			started_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_info (
			tenant TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_results_config ON run_results(tenant, config_id)`,
	}
	for _, ddl := range ddls {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	return nil
}

// tenantVisible mirrors store/memory's predicate in SQL: a row is visible to
// every caller when the query itself carries no tenant (admin mode, spec.md
// §3 invariant 5); otherwise only rows stamped with that exact tenant match
// — a row stored with an empty tenant is not a wildcard on the row side.
func tenantVisible(tenant string) (clause string, args []any) {
	if tenant == "" {
		return "1=1", nil
	}
	return "tenant = ?", []any{tenant}
}

// entityStore implements windlass.EntityStore[T] over one JSON-blob table.
type entityStore[T windlass.Entity[T]] struct {
	db     *sql.DB
	logger *slog.Logger
	table  string
}

func (s *entityStore[T]) Upsert(ctx context.Context, tenant string, entity T) (T, error) {
	start := time.Now()
	var zero T
	id := entity.EntityID()
	s.logger.Debug("sqlite: upsert "+s.table, "id", id, "tenant", tenant)

	now := time.Now()
	created := now
	var existingTenant string
	var existingCreated int64
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT tenant, created_at FROM %s WHERE id = ?`, s.table), id)
	if err := row.Scan(&existingTenant, &existingCreated); err == nil {
		if tenant == "" || existingTenant == tenant {
			created = time.Unix(0, existingCreated)
		}
	}

	stamped := entity.WithTimestamps(created, now)
	data, err := json.Marshal(stamped)
	if err != nil {
		return zero, &windlass.StoreError{Op: "upsert " + s.table, Kind_: "encode", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, s.table),
		id, tenant, string(data), created.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		s.logger.Error("sqlite: upsert "+s.table+" failed", "id", id, "error", err, "duration", time.Since(start))
		return zero, &windlass.StoreError{Op: "upsert " + s.table, Kind_: "exec", Err: err}
	}
	s.logger.Debug("sqlite: upsert "+s.table+" ok", "id", id, "duration", time.Since(start))
	return stamped, nil
}

func (s *entityStore[T]) Get(ctx context.Context, tenant, id string) (T, error) {
	var zero T
	clause, args := tenantVisible(tenant)
	args = append([]any{id}, args...)

	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = ? AND %s`, s.table, clause), args...,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return zero, fmt.Errorf("sqlite: get %s %s: %w", s.table, id, windlass.ErrNotFound)
	}
	if err != nil {
		return zero, &windlass.StoreError{Op: "get " + s.table, Kind_: "query", Err: err}
	}
	var entity T
	if err := json.Unmarshal([]byte(data), &entity); err != nil {
		return zero, &windlass.StoreError{Op: "get " + s.table, Kind_: "decode", Err: err}
	}
	return entity, nil
}

func (s *entityStore[T]) List(ctx context.Context, tenant string, limit, offset int) ([]T, int, error) {
	clause, args := tenantVisible(tenant)

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.table, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, &windlass.StoreError{Op: "list " + s.table, Kind_: "count", Err: err}
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE %s ORDER BY id`, s.table, clause)
	queryArgs := append([]any{}, args...)
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		queryArgs = append(queryArgs, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		queryArgs = append(queryArgs, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "query", Err: err}
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "scan", Err: err}
		}
		var entity T
		if err := json.Unmarshal([]byte(data), &entity); err != nil {
			return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "decode", Err: err}
		}
		out = append(out, entity)
	}
	return out, total, rows.Err()
}

func (s *entityStore[T]) Delete(ctx context.Context, tenant, id string) error {
	clause, args := tenantVisible(tenant)
	args = append([]any{id}, args...)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND %s`, s.table, clause), args...)
	if err != nil {
		return &windlass.StoreError{Op: "delete " + s.table, Kind_: "exec", Err: err}
	}
	return nil
}

// runStore implements windlass.RunResultStore over run_results.
type runStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func (s *runStore) Create(ctx context.Context, tenant string, run windlass.RunResult) (windlass.RunResult, error) {
	run.Tenant = tenant
	data, err := json.Marshal(run)
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "create run", Kind_: "encode", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_results (id, tenant, config_id, data, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, tenant, run.ConfigID, string(data), run.StartedAt.UnixNano(),
	)
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "create run", Kind_: "exec", Err: err}
	}
	return run, nil
}

func (s *runStore) Get(ctx context.Context, tenant, id string) (windlass.RunResult, error) {
	clause, args := tenantVisible(tenant)
	args = append([]any{id}, args...)
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM run_results WHERE id = ? AND %s`, clause), args...,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return windlass.RunResult{}, fmt.Errorf("sqlite: get run %s: %w", id, windlass.ErrNotFound)
	}
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "get run", Kind_: "query", Err: err}
	}
	var run windlass.RunResult
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "get run", Kind_: "decode", Err: err}
	}
	return run, nil
}

func (s *runStore) List(ctx context.Context, tenant string, limit, offset int) ([]windlass.RunResult, int, error) {
	return s.filtered(ctx, tenant, "", limit, offset)
}

func (s *runStore) ListByConfig(ctx context.Context, tenant, configID string, limit, offset int) ([]windlass.RunResult, int, error) {
	return s.filtered(ctx, tenant, configID, limit, offset)
}

func (s *runStore) filtered(ctx context.Context, tenant, configID string, limit, offset int) ([]windlass.RunResult, int, error) {
	clause, args := tenantVisible(tenant)
	if configID != "" {
		clause += " AND config_id = ?"
		args = append(args, configID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM run_results WHERE %s`, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, &windlass.StoreError{Op: "list runs", Kind_: "count", Err: err}
	}

	query := fmt.Sprintf(`SELECT data FROM run_results WHERE %s ORDER BY id`, clause)
	queryArgs := append([]any{}, args...)
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		queryArgs = append(queryArgs, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		queryArgs = append(queryArgs, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "query", Err: err}
	}
	defer rows.Close()

	out := make([]windlass.RunResult, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "scan", Err: err}
		}
		var run windlass.RunResult
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "decode", Err: err}
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (s *runStore) DeleteAll(ctx context.Context, tenant string) (int, error) {
	clause, args := tenantVisible(tenant)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM run_results WHERE %s`, clause), args...)
	if err != nil {
		return 0, &windlass.StoreError{Op: "delete all runs", Kind_: "exec", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// tenantStore implements windlass.TenantInfoStore over tenant_info.
type tenantStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func (s *tenantStore) GetTenantInfo(ctx context.Context, tenant string) (windlass.TenantInfo, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM tenant_info WHERE tenant = ?`, tenant,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return windlass.TenantInfo{}, fmt.Errorf("sqlite: get tenant info %s: %w", tenant, windlass.ErrNotFound)
	}
	if err != nil {
		return windlass.TenantInfo{}, &windlass.StoreError{Op: "get tenant info", Kind_: "query", Err: err}
	}
	var info windlass.TenantInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return windlass.TenantInfo{}, &windlass.StoreError{Op: "get tenant info", Kind_: "decode", Err: err}
	}
	return info, nil
}

func (s *tenantStore) SetTenantInfo(ctx context.Context, tenant string, info windlass.TenantInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return &windlass.StoreError{Op: "set tenant info", Kind_: "encode", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenant_info (tenant, data) VALUES (?, ?)
		 ON CONFLICT(tenant) DO UPDATE SET data = excluded.data`,
		tenant, string(data),
	)
	if err != nil {
		return &windlass.StoreError{Op: "set tenant info", Kind_: "exec", Err: err}
	}
	return nil
}
