// Package manager owns backend state: configured providers, the latest
// availability snapshot and the currently selected backend. All reads
// and mutations go through one Manager.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/spetr/localrouter/internal/config"
	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// ConfigStore persists configuration mutations. Persistence happens
// before the mutation takes effect in memory.
type ConfigStore interface {
	Save(cfg *config.Config) error
}

// Factory builds the provider set for a configuration. It is re-invoked
// after every configuration change.
type Factory func(cfg *config.Config) map[types.Kind]provider.Provider

// Recorder receives each published probe batch. A nil Recorder disables
// history.
type Recorder interface {
	Record(batchAt time.Time, snapshot types.Snapshot) error
}

// Status is a point-in-time view of the manager.
type Status struct {
	Mode     types.Mode
	Snapshot types.Snapshot
	Active   types.Kind // meaningful only when Resolved
	Resolved bool
	Probing  bool
	InFlight int
}

// Event describes a state change delivered to subscribers.
type Event struct {
	Status Status
}

// Options configures a Manager.
type Options struct {
	Config   *config.Config
	Store    ConfigStore
	Factory  Factory
	Recorder Recorder
}

// Manager coordinates providers, probing and selection.
type Manager struct {
	mu sync.Mutex

	cfg       *config.Config
	store     ConfigStore
	factory   Factory
	recorder  Recorder
	providers map[types.Kind]provider.Provider

	snapshot types.Snapshot
	active   types.Kind
	resolved bool
	probing  bool
	inFlight int

	subscribers map[int]func(Event)
	nextSubID   int
}

// New creates a Manager. No probing happens here; callers decide when the
// first Refresh runs.
func New(opts Options) *Manager {
	return &Manager{
		cfg:         opts.Config,
		store:       opts.Store,
		factory:     opts.Factory,
		recorder:    opts.Recorder,
		providers:   opts.Factory(opts.Config),
		snapshot:    types.Snapshot{},
		subscribers: make(map[int]func(Event)),
	}
}

// Status returns a copy of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		Mode:     types.Mode(m.cfg.Mode),
		Snapshot: m.snapshot.Clone(),
		Active:   m.active,
		Resolved: m.resolved,
		Probing:  m.probing,
		InFlight: m.inFlight,
	}
}

// Subscribe registers a callback for state changes and returns an
// unsubscribe function. Callbacks run outside the manager lock.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// notifyLocked snapshots the subscriber list and current status; the
// callbacks themselves run after the lock is released.
func (m *Manager) notifyLocked() func() {
	status := m.statusLocked()
	fns := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(Event{Status: status})
		}
	}
}

// Refresh probes every configured backend concurrently and publishes the
// results as one snapshot. Selection is recomputed exactly once per
// batch.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.probing {
		m.mu.Unlock()
		return fmt.Errorf("%w: refresh already in progress", types.ErrInvalidState)
	}
	m.probing = true
	providers := make(map[types.Kind]provider.Provider, len(m.providers))
	for kind, p := range m.providers {
		providers[kind] = p
	}
	timeout := m.cfg.Probe.Timeout
	notify := m.notifyLocked()
	m.mu.Unlock()
	notify()

	batchAt := time.Now()
	snapshot := probeAll(ctx, providers, timeout)

	m.mu.Lock()
	m.probing = false
	m.snapshot = snapshot
	m.recomputeLocked()
	recorder := m.recorder
	notify = m.notifyLocked()
	m.mu.Unlock()
	notify()

	if recorder != nil {
		if err := recorder.Record(batchAt, snapshot); err != nil {
			slog.Warn("failed to record probe batch", "error", err)
		}
	}

	return ctx.Err()
}

// recomputeLocked derives the active backend from mode and snapshot.
func (m *Manager) recomputeLocked() {
	m.active, m.resolved = provider.Select(types.Mode(m.cfg.Mode), m.snapshot)
	if m.resolved {
		slog.Debug("active backend", "backend", m.active)
	} else {
		slog.Debug("no backend available", "mode", m.cfg.Mode)
	}
}

// SetMode switches between automatic selection and an explicit backend.
// The change is persisted before it takes effect, then a probe batch
// runs so the new mode selects against current availability.
func (m *Manager) SetMode(ctx context.Context, mode types.Mode) error {
	if kind, explicit := mode.Explicit(); explicit && !provider.Known(kind) {
		return fmt.Errorf("%w: unknown backend: %s", types.ErrInvalidConfig, kind)
	}

	m.mu.Lock()
	next := m.cfg.Copy()
	next.Mode = string(mode)
	if next.Mode == "" {
		next.Mode = "auto"
	}
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist mode: %w", err)
	}

	m.cfg = next
	m.recomputeLocked()
	notify := m.notifyLocked()
	m.mu.Unlock()
	notify()

	return m.refreshAfterMutation(ctx)
}

// SetEndpoint changes a backend's endpoint. The change is persisted
// first, then the provider set is rebuilt and re-probed; the old
// snapshot entry no longer describes the new endpoint.
func (m *Manager) SetEndpoint(ctx context.Context, kind types.Kind, endpoint string) error {
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: malformed endpoint: %s", types.ErrInvalidConfig, endpoint)
	}
	return m.updateProvider(ctx, kind, func(pc *config.ProviderConfig) {
		pc.Endpoint = endpoint
	})
}

// SetModel changes a backend's model. For the subprocess backend the
// value is its model file path.
func (m *Manager) SetModel(ctx context.Context, kind types.Kind, model string) error {
	return m.updateProvider(ctx, kind, func(pc *config.ProviderConfig) {
		if kind == types.KindPyScript {
			pc.ModelPath = model
		} else {
			pc.Model = model
		}
	})
}

func (m *Manager) updateProvider(ctx context.Context, kind types.Kind, mutate func(*config.ProviderConfig)) error {
	if !provider.Known(kind) {
		return fmt.Errorf("%w: unknown backend: %s", types.ErrInvalidConfig, kind)
	}

	m.mu.Lock()
	next := m.cfg.Copy()
	pc := next.Provider(kind)
	mutate(&pc)
	next.SetProvider(kind, pc)

	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist config: %w", err)
	}

	m.cfg = next
	m.providers = m.factory(next)
	notify := m.notifyLocked()
	m.mu.Unlock()
	notify()

	return m.refreshAfterMutation(ctx)
}

// refreshAfterMutation probes with the mutated configuration. A batch
// already in flight was dispatched against the pre-mutation provider
// set; the mutation itself is already applied and persisted, so its
// probe is left to the next refresh rather than failing the mutation.
func (m *Manager) refreshAfterMutation(ctx context.Context) error {
	err := m.Refresh(ctx)
	if errors.Is(err, types.ErrInvalidState) {
		slog.Debug("probe batch already in flight after config change")
		return nil
	}
	return err
}

// ApplyConfig swaps in an externally reloaded configuration, rebuilding
// the provider set. Used by the config file watcher.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg.Copy()
	m.providers = m.factory(m.cfg)
	m.recomputeLocked()
	notify := m.notifyLocked()
	m.mu.Unlock()
	notify()
}

// resolve picks the provider a call binds to. The binding happens at
// call start; a snapshot published mid-call does not retarget the call.
func (m *Manager) resolve() (provider.Provider, types.Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resolved {
		return nil, "", types.ErrNoBackendAvailable
	}
	p, ok := m.providers[m.active]
	if !ok {
		return nil, "", fmt.Errorf("%w: no provider for active backend %s", types.ErrInvalidState, m.active)
	}

	m.inFlight++
	return p, m.active, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

// Generate dispatches a generation request to the active backend. There
// is no retry or fallback; an error from the bound backend is the
// caller's answer.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	p, kind, err := m.resolve()
	if err != nil {
		return "", err
	}
	defer m.release()

	slog.Debug("generate", "backend", kind)
	return p.Generate(ctx, req)
}

// Embed dispatches an embedding request to the active backend. Backends
// without embedding support are rejected before any dispatch.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	p, kind, err := m.resolve()
	if err != nil {
		return nil, err
	}
	defer m.release()

	if !provider.SupportsEmbeddings(kind) {
		return nil, fmt.Errorf("%w: %s does not support embeddings", types.ErrUnsupportedOperation, kind)
	}

	slog.Debug("embed", "backend", kind)
	return p.Embed(ctx, text)
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Copy()
}
