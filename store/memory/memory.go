// Package memory implements windlass.Repository with process-local maps.
// New (oasis ships no in-memory store); the shape follows
// windlass.EntityStore[T]/RunResultStore directly, generalized over one
// type parameter instead of one concrete struct per entity kind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/windlass-dev/windlass"
)

// entityStore is a generic, mutex-protected, tenant-scoped map of T keyed
// by EntityID. One instance backs each of ApiConfig/ExtractConfig/
// TransformConfig/Workflow.
type entityStore[T windlass.Entity[T]] struct {
	mu   sync.RWMutex
	rows map[string]tenantRow[T]
}

type tenantRow[T any] struct {
	tenant string
	value  T
}

func newEntityStore[T windlass.Entity[T]]() *entityStore[T] {
	return &entityStore[T]{rows: make(map[string]tenantRow[T])}
}

func (s *entityStore[T]) Upsert(_ context.Context, tenant string, entity T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entity.EntityID()
	now := time.Now()
	created := now
	if existing, ok := s.rows[id]; ok && existing.tenant == tenant {
		if !existing.value.Created().IsZero() {
			created = existing.value.Created()
		}
	}
	stamped := entity.WithTimestamps(created, now)
	s.rows[id] = tenantRow[T]{tenant: tenant, value: stamped}
	return stamped, nil
}

func (s *entityStore[T]) Get(_ context.Context, tenant, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var zero T
	row, ok := s.rows[id]
	if !ok || (tenant != "" && row.tenant != tenant) {
		return zero, windlass.ErrNotFound
	}
	return row.value, nil
}

func (s *entityStore[T]) List(_ context.Context, tenant string, limit, offset int) ([]T, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rows))
	for id, row := range s.rows {
		if tenant != "" && row.tenant != tenant {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	if offset >= total {
		return []T{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]T, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.rows[id].value)
	}
	return out, total, nil
}

func (s *entityStore[T]) Delete(_ context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok && (tenant == "" || row.tenant == tenant) {
		delete(s.rows, id)
	}
	return nil
}

// runStore implements windlass.RunResultStore over a process-local map.
type runStore struct {
	mu   sync.RWMutex
	rows map[string]tenantRow[windlass.RunResult]
}

func newRunStore() *runStore {
	return &runStore{rows: make(map[string]tenantRow[windlass.RunResult])}
}

func (s *runStore) Create(_ context.Context, tenant string, run windlass.RunResult) (windlass.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Tenant = tenant
	s.rows[run.ID] = tenantRow[windlass.RunResult]{tenant: tenant, value: run}
	return run, nil
}

func (s *runStore) Get(_ context.Context, tenant, id string) (windlass.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok || (tenant != "" && row.tenant != tenant) {
		return windlass.RunResult{}, windlass.ErrNotFound
	}
	return row.value, nil
}

func (s *runStore) List(_ context.Context, tenant string, limit, offset int) ([]windlass.RunResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(tenant, "", limit, offset)
}

func (s *runStore) ListByConfig(_ context.Context, tenant, configID string, limit, offset int) ([]windlass.RunResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered(tenant, configID, limit, offset)
}

// filtered must be called with s.mu held for reading.
func (s *runStore) filtered(tenant, configID string, limit, offset int) ([]windlass.RunResult, int, error) {
	ids := make([]string, 0, len(s.rows))
	for id, row := range s.rows {
		if tenant != "" && row.tenant != tenant {
			continue
		}
		if configID != "" && row.value.ConfigID != configID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	if offset >= total {
		return []windlass.RunResult{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]windlass.RunResult, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.rows[id].value)
	}
	return out, total, nil
}

func (s *runStore) DeleteAll(_ context.Context, tenant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, row := range s.rows {
		if tenant == "" || row.tenant == tenant {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// tenantStore implements windlass.TenantInfoStore over a process-local map.
type tenantStore struct {
	mu   sync.RWMutex
	rows map[string]windlass.TenantInfo
}

func newTenantStore() *tenantStore {
	return &tenantStore{rows: make(map[string]windlass.TenantInfo)}
}

func (s *tenantStore) GetTenantInfo(_ context.Context, tenant string) (windlass.TenantInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.rows[tenant]
	if !ok {
		return windlass.TenantInfo{}, windlass.ErrNotFound
	}
	return info, nil
}

func (s *tenantStore) SetTenantInfo(_ context.Context, tenant string, info windlass.TenantInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tenant] = info
	return nil
}

// New builds a windlass.Repository backed entirely by process-local maps.
// Intended for tests and ephemeral/dev use — nothing survives a restart.
func New() *windlass.Repository {
	return &windlass.Repository{
		Workflows:  newEntityStore[windlass.Workflow](),
		Apis:       newEntityStore[windlass.ApiConfig](),
		Extracts:   newEntityStore[windlass.ExtractConfig](),
		Transforms: newEntityStore[windlass.TransformConfig](),
		Runs:       newRunStore(),
		Tenants:    newTenantStore(),
		Init:       func(context.Context) error { return nil },
		Close:      func() error { return nil },
	}
}
