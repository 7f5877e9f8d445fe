// Package manager implements the model registry and lazy-loading
// runner cache: a read-only list of ModelConfigs, and a mapping
// id → *runner.Runner populated on first use. Once inserted, a
// Runner's identity is stable for the process lifetime; concurrent
// lookups for an uninitialized id serialize loading and all observe
// the same Runner — the same guarantee the teacher's Manager gives
// for *Instance under concurrent EnsureInstance calls.
package manager

import (
	"fmt"
	"sync"

	"github.com/KarunKarguz/edge-infer-gateway/internal/backend"
	"github.com/KarunKarguz/edge-infer-gateway/internal/runner"
	"github.com/KarunKarguz/edge-infer-gateway/pkg/types"
)

// Manager is the model registry: a set of ModelConfigs plus a
// lazily-populated id → Runner map. Lock order when both are held:
// Manager first, then a Runner's own internals — in practice the
// Runner reference is returned before any Runner-level lock is taken,
// so this is naturally respected.
type Manager struct {
	mu      sync.Mutex
	configs map[string]types.ModelConfig
	runners map[string]*runner.Runner
	// loading tracks in-progress loads so concurrent GetOrLoad calls
	// for the same uninitialized id wait on the same load instead of
	// double-loading.
	loading map[string]*loadFuture

	newRuntime backend.RuntimeFactory
}

type loadFuture struct {
	done chan struct{}
	r    *runner.Runner
	err  error
}

// New constructs a Manager from a registry slice. newRuntime is
// invoked once per Runner load to obtain a fresh backend.Runtime: one
// engine/runtime per Runner, not shared across models.
func New(configs []types.ModelConfig, newRuntime backend.RuntimeFactory) *Manager {
	m := &Manager{
		configs:    make(map[string]types.ModelConfig, len(configs)),
		runners:    make(map[string]*runner.Runner),
		loading:    make(map[string]*loadFuture),
		newRuntime: newRuntime,
	}
	for _, c := range configs {
		m.configs[c.ID] = c
	}
	return m
}

// GetOrLoad returns the stable Runner for id, loading it on first use.
// If id is unknown in the registry it returns ErrUnknownModel(id)
// without taking any load lock. Concurrent calls for the same
// unloaded id block on the same in-flight load and all receive the
// identical *runner.Runner pointer.
func (m *Manager) GetOrLoad(id string) (*runner.Runner, error) {
	m.mu.Lock()
	if r, ok := m.runners[id]; ok {
		m.mu.Unlock()
		return r, nil
	}
	cfg, ok := m.configs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknownModel(id)
	}
	if f, inFlight := m.loading[id]; inFlight {
		m.mu.Unlock()
		<-f.done
		return f.r, f.err
	}

	f := &loadFuture{done: make(chan struct{})}
	m.loading[id] = f
	m.mu.Unlock()

	r, err := runner.Load(id, cfg, m.newRuntime)

	m.mu.Lock()
	delete(m.loading, id)
	if err != nil {
		f.err = err
	} else {
		m.runners[id] = r
		f.r = r
	}
	m.mu.Unlock()
	close(f.done)

	if err != nil {
		return nil, fmt.Errorf("manager: load %q: %w", id, err)
	}
	return r, nil
}

// Configs returns a copy of the registered model configs, in no
// particular order.
func (m *Manager) Configs() []types.ModelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ModelConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	return out
}

// Loaded reports whether id currently has a resident Runner.
func (m *Manager) Loaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runners[id]
	return ok
}

// Close releases every loaded Runner, in no particular order across
// models (each Runner's own Close is internally ordered).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, r := range m.runners {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("manager: close %q: %w", id, err)
		}
	}
	m.runners = make(map[string]*runner.Runner)
	return firstErr
}
