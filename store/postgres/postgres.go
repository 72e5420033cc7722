// Package postgres implements windlass.Repository using PostgreSQL.
//
// Grounded on oasis store/postgres/postgres.go: an externally-owned
// *pgxpool.Pool injected via constructor, idempotent CREATE TABLE/INDEX
// statements in Init, $N placeholders, and ON CONFLICT upserts. Unlike
// oasis's one table and method set per domain kind (threads, messages,
// documents, chunks...), each persisted entity kind here is a JSONB
// column behind the shared windlass.EntityStore[T] contract, so one
// generic type backs ApiConfig/ExtractConfig/TransformConfig/Workflow.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/windlass-dev/windlass"
)

// New builds a windlass.Repository backed by an externally-owned pool.
// The caller creates and closes the pool; Repository.Close is a no-op
// here since pgxpool.Pool.Close cannot return an error and ownership
// stays with the caller (grounded on oasis's injection pattern).
func New(pool *pgxpool.Pool) *windlass.Repository {
	return &windlass.Repository{
		Workflows:  &entityStore[windlass.Workflow]{pool: pool, table: "workflows"},
		Apis:       &entityStore[windlass.ApiConfig]{pool: pool, table: "api_configs"},
		Extracts:   &entityStore[windlass.ExtractConfig]{pool: pool, table: "extract_configs"},
		Transforms: &entityStore[windlass.TransformConfig]{pool: pool, table: "transform_configs"},
		Runs:       &runStore{pool: pool},
		Tenants:    &tenantStore{pool: pool},
		Init:       func(ctx context.Context) error { return initSchema(ctx, pool) },
		Close:      func() error { return nil },
	}
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extract_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transform_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_results (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL DEFAULT '',
			config_id TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL,
			started_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_results_config ON run_results(tenant, config_id)`,
		`CREATE TABLE IF NOT EXISTS tenant_info (
			tenant TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// tenantVisible: a row is visible to every caller only when the query
// itself carries no tenant (admin mode, spec.md §3 invariant 5); a row
// stored with an empty tenant is not a wildcard on the row side.
func tenantVisible(tenant string, nextArg int) (clause string, args []any) {
	if tenant == "" {
		return "TRUE", nil
	}
	return fmt.Sprintf("tenant = $%d", nextArg), []any{tenant}
}

// entityStore implements windlass.EntityStore[T] over one JSONB table.
type entityStore[T windlass.Entity[T]] struct {
	pool  *pgxpool.Pool
	table string
}

func (s *entityStore[T]) Upsert(ctx context.Context, tenant string, entity T) (T, error) {
	var zero T
	id := entity.EntityID()

	now := time.Now()
	created := now
	var existingTenant string
	var existingCreated int64
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT tenant, created_at FROM %s WHERE id = $1`, s.table), id)
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

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, s.table),
		id, tenant, data, created.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return zero, &windlass.StoreError{Op: "upsert " + s.table, Kind_: "exec", Err: err}
	}
	return stamped, nil
}

func (s *entityStore[T]) Get(ctx context.Context, tenant, id string) (T, error) {
	var zero T
	clause, args := tenantVisible(tenant, 2)
	args = append([]any{id}, args...)

	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 AND %s`, s.table, clause), args...,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return zero, fmt.Errorf("postgres: get %s %s: %w", s.table, id, windlass.ErrNotFound)
	}
	if err != nil {
		return zero, &windlass.StoreError{Op: "get " + s.table, Kind_: "query", Err: err}
	}
	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return zero, &windlass.StoreError{Op: "get " + s.table, Kind_: "decode", Err: err}
	}
	return entity, nil
}

func (s *entityStore[T]) List(ctx context.Context, tenant string, limit, offset int) ([]T, int, error) {
	clause, args := tenantVisible(tenant, 1)

	var total int
	if err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.table, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, &windlass.StoreError{Op: "list " + s.table, Kind_: "count", Err: err}
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE %s ORDER BY id`, s.table, clause)
	queryArgs := append([]any{}, args...)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(queryArgs)+1, len(queryArgs)+2)
		queryArgs = append(queryArgs, limit, offset)
	} else if offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(queryArgs)+1)
		queryArgs = append(queryArgs, offset)
	}

	rows, err := s.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "query", Err: err}
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "scan", Err: err}
		}
		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, total, &windlass.StoreError{Op: "list " + s.table, Kind_: "decode", Err: err}
		}
		out = append(out, entity)
	}
	return out, total, rows.Err()
}

func (s *entityStore[T]) Delete(ctx context.Context, tenant, id string) error {
	clause, args := tenantVisible(tenant, 2)
	args = append([]any{id}, args...)
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND %s`, s.table, clause), args...)
	if err != nil {
		return &windlass.StoreError{Op: "delete " + s.table, Kind_: "exec", Err: err}
	}
	return nil
}

// runStore implements windlass.RunResultStore over run_results.
type runStore struct {
	pool *pgxpool.Pool
}

func (s *runStore) Create(ctx context.Context, tenant string, run windlass.RunResult) (windlass.RunResult, error) {
	run.Tenant = tenant
	data, err := json.Marshal(run)
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "create run", Kind_: "encode", Err: err}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_results (id, tenant, config_id, data, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, tenant, run.ConfigID, data, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "create run", Kind_: "exec", Err: err}
	}
	return run, nil
}

func (s *runStore) Get(ctx context.Context, tenant, id string) (windlass.RunResult, error) {
	clause, args := tenantVisible(tenant, 2)
	args = append([]any{id}, args...)
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM run_results WHERE id = $1 AND %s`, clause), args...,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return windlass.RunResult{}, fmt.Errorf("postgres: get run %s: %w", id, windlass.ErrNotFound)
	}
	if err != nil {
		return windlass.RunResult{}, &windlass.StoreError{Op: "get run", Kind_: "query", Err: err}
	}
	var run windlass.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
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
	clause, args := tenantVisible(tenant, 1)
	if configID != "" {
		args = append(args, configID)
		clause += fmt.Sprintf(" AND config_id = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM run_results WHERE %s`, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, &windlass.StoreError{Op: "list runs", Kind_: "count", Err: err}
	}

	query := fmt.Sprintf(`SELECT data FROM run_results WHERE %s ORDER BY id`, clause)
	queryArgs := append([]any{}, args...)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(queryArgs)+1, len(queryArgs)+2)
		queryArgs = append(queryArgs, limit, offset)
	} else if offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(queryArgs)+1)
		queryArgs = append(queryArgs, offset)
	}

	rows, err := s.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "query", Err: err}
	}
	defer rows.Close()

	out := make([]windlass.RunResult, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "scan", Err: err}
		}
		var run windlass.RunResult
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, total, &windlass.StoreError{Op: "list runs", Kind_: "decode", Err: err}
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (s *runStore) DeleteAll(ctx context.Context, tenant string) (int, error) {
	clause, args := tenantVisible(tenant, 1)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM run_results WHERE %s`, clause), args...)
	if err != nil {
		return 0, &windlass.StoreError{Op: "delete all runs", Kind_: "exec", Err: err}
	}
	return int(tag.RowsAffected()), nil
}

// tenantStore implements windlass.TenantInfoStore over tenant_info.
type tenantStore struct {
	pool *pgxpool.Pool
}

func (s *tenantStore) GetTenantInfo(ctx context.Context, tenant string) (windlass.TenantInfo, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM tenant_info WHERE tenant = $1`, tenant,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return windlass.TenantInfo{}, fmt.Errorf("postgres: get tenant info %s: %w", tenant, windlass.ErrNotFound)
	}
	if err != nil {
		return windlass.TenantInfo{}, &windlass.StoreError{Op: "get tenant info", Kind_: "query", Err: err}
	}
	var info windlass.TenantInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return windlass.TenantInfo{}, &windlass.StoreError{Op: "get tenant info", Kind_: "decode", Err: err}
	}
	return info, nil
}

func (s *tenantStore) SetTenantInfo(ctx context.Context, tenant string, info windlass.TenantInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return &windlass.StoreError{Op: "set tenant info", Kind_: "encode", Err: err}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenant_info (tenant, data) VALUES ($1, $2)
		 ON CONFLICT (tenant) DO UPDATE SET data = EXCLUDED.data`,
		tenant, data,
	)
	if err != nil {
		return &windlass.StoreError{Op: "set tenant info", Kind_: "exec", Err: err}
	}
	return nil
}
