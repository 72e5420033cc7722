package windlass

import (
	"context"
	"errors"
	"time"
)

// Entity is implemented by every persisted definition kind (Workflow,
// ApiConfig, ExtractConfig, TransformConfig). WithTimestamps returns a copy
// of the receiver with CreatedAt/UpdatedAt set by the store on Upsert, so
// callers never have to set them by hand and stores never need a type
// switch over the entity kind.
type Entity[T any] interface {
	EntityID() string
	WithTimestamps(created, updated time.Time) T
	// Created returns the entity's current CreatedAt, so a generic store
	// can preserve it across an Upsert that only updates UpdatedAt.
	Created() time.Time
}

// EntityStore is a generic per-kind persistence contract, parameterized
// over one Entity[T] so ApiConfig/ExtractConfig/TransformConfig/Workflow
// share a single interface shape instead of oasis's one-method-group-per-kind
// Store interface.
type EntityStore[T Entity[T]] interface {
	// Upsert creates or replaces the entity by EntityID, stamping
	// CreatedAt on first insert and UpdatedAt on every call.
	Upsert(ctx context.Context, tenant string, entity T) (T, error)
	// Get returns the entity visible to tenant, or an error satisfying
	// errors.Is(err, ErrNotFound) if it does not exist or belongs to a
	// different tenant.
	Get(ctx context.Context, tenant, id string) (T, error)
	// List returns entities visible to tenant in EntityID order, with the
	// exact total count ignoring limit/offset.
	List(ctx context.Context, tenant string, limit, offset int) ([]T, int, error)
	// Delete removes the entity by id. Deleting a non-existent id is not
	// an error.
	Delete(ctx context.Context, tenant, id string) error
}

// RunResultStore persists RunResults. It is not an EntityStore[RunResult]
// because runs are created once and never upserted (spec invariant: a
// RunResult is immutable after Execute returns), and support bulk deletion
// and per-workflow listing that the generic contract has no room for.
type RunResultStore interface {
	Create(ctx context.Context, tenant string, run RunResult) (RunResult, error)
	Get(ctx context.Context, tenant, id string) (RunResult, error)
	List(ctx context.Context, tenant string, limit, offset int) ([]RunResult, int, error)
	ListByConfig(ctx context.Context, tenant, configID string, limit, offset int) ([]RunResult, int, error)
	DeleteAll(ctx context.Context, tenant string) (int, error)
}

// TenantInfoStore persists administrative metadata keyed by tenant id.
type TenantInfoStore interface {
	GetTenantInfo(ctx context.Context, tenant string) (TenantInfo, error)
	SetTenantInfo(ctx context.Context, tenant string, info TenantInfo) error
}

// Repository bundles one EntityStore per definition kind plus the run and
// tenant stores, so a single value threads through the façade, the
// executor, and every store backend constructor.
type Repository struct {
	Workflows  EntityStore[Workflow]
	Apis       EntityStore[ApiConfig]
	Extracts   EntityStore[ExtractConfig]
	Transforms EntityStore[TransformConfig]
	Runs       RunResultStore
	Tenants    TenantInfoStore

	// Init prepares the backing storage (e.g. creates tables). Idempotent.
	Init func(ctx context.Context) error
	// Close releases pooled resources (connection pools, file handles).
	Close func() error
}

// ErrNotFound is the sentinel a store backend returns when Get (or
// GetTenantInfo) finds no matching row visible to the tenant: store/memory
// returns it as is, the SQL backends wrap it with fmt.Errorf's %w. Delete of
// a missing row is not an error. Callers check it with errors.Is.
var ErrNotFound = errors.New("windlass: not found")
