// Package repository provides the default in-process implementation of
// the Repository<T> collaborator spec §6 names as external: save,
// findAll, findById, deleteById, count, existsByName. It is adapted
// from the teacher's generic database helpers (same Go-generic,
// table-per-type shape) with the Supabase-PostgREST transport replaced
// by a mutex-guarded in-memory map, since SourceConfig/Alarm
// persistence is an explicit external collaborator the core never
// talks to over the wire.
package repository

import (
	"sync"

	"github.com/grepwise/grepwise/infrastructure/database"
	"github.com/grepwise/grepwise/internal/obserr"
)

// Identifiable is satisfied by any model stored in a Repository.
type Identifiable interface {
	GetID() string
}

// Named is satisfied by models that participate in existsByName checks.
type Named interface {
	GetName() string
}

// Repository is a concurrency-safe, in-memory store for one model type.
// It is the default wiring used by tests and by in-process callers that
// don't inject an external Repository<T>; it is also the reference
// implementation the external collaborator's contract is modeled on.
type Repository[T Identifiable] struct {
	mu      sync.RWMutex
	byID    map[string]T
	kind    string
}

// New constructs an empty Repository for the named resource kind (used
// in NotFound/Conflict error messages).
func New[T Identifiable](kind string) *Repository[T] {
	return &Repository[T]{
		byID: make(map[string]T),
		kind: kind,
	}
}

// Save inserts or overwrites a record by id.
func (r *Repository[T]) Save(item T) error {
	id := item.GetID()
	if id == "" {
		return obserr.ValidationErr("id", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = item
	return nil
}

// FindAll returns every stored record in unspecified order.
func (r *Repository[T]) FindAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	return out
}

// FindByID returns the record with the given id, or a NotFound error.
func (r *Repository[T]) FindByID(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, obserr.NotFound(r.kind, id)
	}
	return v, nil
}

// DeleteByID removes the record with the given id. Deleting an absent
// id is not an error (idempotent delete).
func (r *Repository[T]) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

// Count returns the number of stored records.
func (r *Repository[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ExistsByName reports whether a stored record's GetName() equals name.
// Only meaningful when T also implements Named; callers that don't need
// name-uniqueness (e.g. SourceConfig) can ignore it.
func ExistsByName[T interface {
	Identifiable
	Named
}](r *Repository[T], name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.byID {
		if v.GetName() == name {
			return true
		}
	}
	return false
}

// Pagination re-exports the teacher's pagination helper for callers
// that list through a Repository with limit/offset semantics.
type Pagination = database.PaginationParams

// NewPagination validates and normalizes limit/offset parameters.
func NewPagination(limit, offset int) Pagination {
	return database.NewPagination(limit, offset)
}
