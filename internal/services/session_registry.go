package services

import (
	"context"
	"sync"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

// Registry keeps one running engine per signed-in engineer. Engines are
// started on first use and torn down on sign-out, after sitting idle with
// no live listeners, or when their subscription is lost.
type Registry struct {
	deps EngineDeps

	mu      sync.Mutex
	engines map[string]*registryEntry
}

type registryEntry struct {
	engine   *Engine
	lastUsed time.Time
}

func NewRegistry(deps EngineDeps) *Registry {
	return &Registry{deps: deps, engines: map[string]*registryEntry{}}
}

func (r *Registry) now() time.Time {
	if r.deps.Now != nil {
		return r.deps.Now()
	}
	return time.Now()
}

func (r *Registry) Acquire(ctx context.Context, id models.Identity) (*Engine, error) {
	const op = "Registry.Acquire"

	if id.OwnerID == "" {
		return nil, utils.E(utils.CodeUnauthorized, op, "owner id is required", nil)
	}

	r.mu.Lock()
	if e := r.lookupLocked(id.OwnerID); e != nil {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	// Start outside the lock; it talks to the store.
	e := NewEngine(id, r.deps)
	if err := e.Start(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing := r.lookupLocked(id.OwnerID); existing != nil {
		r.mu.Unlock()
		_ = e.Close()
		return existing, nil
	}
	r.engines[id.OwnerID] = &registryEntry{engine: e, lastUsed: r.now()}
	r.mu.Unlock()
	return e, nil
}

// lookupLocked returns ownerID's running engine and marks it used. An engine
// that has stopped on its own is dropped so the caller builds a fresh one.
func (r *Registry) lookupLocked(ownerID string) *Engine {
	ent, ok := r.engines[ownerID]
	if !ok {
		return nil
	}
	select {
	case <-ent.engine.Done():
		delete(r.engines, ownerID)
		return nil
	default:
	}
	ent.lastUsed = r.now()
	return ent.engine
}

// Release closes ownerID's engine, if any.
func (r *Registry) Release(ownerID string) error {
	r.mu.Lock()
	ent, ok := r.engines[ownerID]
	delete(r.engines, ownerID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return ent.engine.Close()
}

// EvictIdle closes engines unused for longer than maxIdle that have no
// OnChange listeners, plus any that have stopped. It returns how many went.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	var stale []*Engine
	r.mu.Lock()
	for owner, ent := range r.engines {
		select {
		case <-ent.engine.Done():
			delete(r.engines, owner)
			continue
		default:
		}
		if ent.lastUsed.Before(cutoff) && ent.engine.Listeners() == 0 {
			delete(r.engines, owner)
			stale = append(stale, ent.engine)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		_ = e.Close()
	}
	return len(stale)
}

// RunJanitor calls EvictIdle every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, every, maxIdle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.EvictIdle(maxIdle); n > 0 && r.deps.Logger != nil {
				r.deps.Logger.WithField("evicted", n).Info("idle session engines released")
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// CloseAll releases every engine. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = map[string]*registryEntry{}
	r.mu.Unlock()

	for _, ent := range engines {
		_ = ent.engine.Close()
	}
}
