// Package source implements the Source Registry (C7): CRUD over
// SourceConfig plus the start/stop lifecycle hooks that attach and
// detach the ingestion drivers (C8) built on top of it.
package source

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obserr"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/repository"
)

// Driver is a running ingestion driver attached to one source. Stop
// must be safe to call once and must return once the driver's
// goroutines have exited.
type Driver interface {
	Stop()
}

// StartFunc constructs and starts the driver for a source config. The
// registry never knows which concrete driver kind (file/syslog/http/
// cloud) it started — spec §4.7 keeps that behind this one
// collaborator interface.
type StartFunc func(ctx context.Context, cfg model.SourceConfig) (Driver, error)

// Coordinator is the subset of the Coordinator (C10) the registry
// consults before attaching a driver.
type Coordinator interface {
	ShouldProcessSource(sourceID string) bool
}

// AlwaysCoordinator is the Coordinator used when horizontal scaling is
// disabled: every source is processed locally.
type AlwaysCoordinator struct{}

func (AlwaysCoordinator) ShouldProcessSource(string) bool { return true }

// Registry stores SourceConfig records and manages each enabled,
// locally-assigned source's driver lifecycle.
type Registry struct {
	mu          sync.Mutex
	repo        *repository.Repository[model.SourceConfig]
	coordinator Coordinator
	start       StartFunc
	drivers     map[string]Driver
	log         *obslog.Component
}

// New constructs a Registry. repo holds the persisted SourceConfig
// records; start is the collaborator that actually launches a driver
// for a given source.
func New(repo *repository.Repository[model.SourceConfig], coordinator Coordinator, start StartFunc, log *obslog.Component) *Registry {
	if coordinator == nil {
		coordinator = AlwaysCoordinator{}
	}
	return &Registry{
		repo:        repo,
		coordinator: coordinator,
		start:       start,
		drivers:     make(map[string]Driver),
		log:         log,
	}
}

// Create validates, persists, and — if the Coordinator assigns this
// source to the local node — starts the source.
func (r *Registry) Create(ctx context.Context, cfg model.SourceConfig) (model.SourceConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return model.SourceConfig{}, obserr.ValidationErr("source", err.Error())
	}
	if err := r.repo.Save(cfg); err != nil {
		return model.SourceConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluateLocked(ctx, cfg)
	return cfg, nil
}

// Update stops the running driver for the prior config (if any),
// persists the new config, then starts it again subject to the
// Coordinator.
func (r *Registry) Update(ctx context.Context, cfg model.SourceConfig) (model.SourceConfig, error) {
	if _, err := r.repo.FindByID(cfg.ID); err != nil {
		return model.SourceConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return model.SourceConfig{}, obserr.ValidationErr("source", err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(cfg.ID)
	if err := r.repo.Save(cfg); err != nil {
		return model.SourceConfig{}, err
	}
	r.evaluateLocked(ctx, cfg)
	return cfg, nil
}

// Delete stops the running driver (if any) and removes the source.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(id)
	return r.repo.DeleteByID(id)
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (model.SourceConfig, error) {
	return r.repo.FindByID(id)
}

// List returns every registered source, regardless of whether a driver
// is attached locally.
func (r *Registry) List() []model.SourceConfig {
	return r.repo.FindAll()
}

// IsRunningLocally reports whether this node currently has a driver
// attached for the given source.
func (r *Registry) IsRunningLocally(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.drivers[id]
	return ok
}

// LoadAndStartEnabled starts a driver for every enabled source the
// Coordinator assigns to this node. Intended to run once at startup.
func (r *Registry) LoadAndStartEnabled(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range r.repo.FindAll() {
		if cfg.Enabled {
			r.evaluateLocked(ctx, cfg)
		}
	}
}

// OnCoordinatorChange re-evaluates every registered source's local
// assignment — called whenever the Coordinator's membership or
// leadership view changes, so a reshard starts/stops drivers promptly.
func (r *Registry) OnCoordinatorChange(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range r.repo.FindAll() {
		r.evaluateLocked(ctx, cfg)
	}
}

// evaluateLocked starts or stops cfg's driver to match the
// Coordinator's current assignment. Caller must hold r.mu.
func (r *Registry) evaluateLocked(ctx context.Context, cfg model.SourceConfig) {
	_, running := r.drivers[cfg.ID]
	shouldRun := cfg.Enabled && r.coordinator.ShouldProcessSource(cfg.ID)

	if shouldRun && !running {
		r.startLocked(ctx, cfg)
		return
	}
	if !shouldRun && running {
		r.stopLocked(cfg.ID)
	}
}

func (r *Registry) startLocked(ctx context.Context, cfg model.SourceConfig) {
	if r.start == nil {
		return
	}
	driver, err := r.start(ctx, cfg)
	if err != nil {
		if r.log != nil {
			r.log.Error(ctx, "failed to start source driver", err, map[string]interface{}{"source_id": cfg.ID})
		}
		return
	}
	r.drivers[cfg.ID] = driver
}

func (r *Registry) stopLocked(id string) {
	driver, ok := r.drivers[id]
	if !ok {
		return
	}
	driver.Stop()
	delete(r.drivers, id)
}
