package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ConfigSource is the boundary to the external configuration store.
type ConfigSource interface {
	FetchToolConfigs(ctx context.Context) ([]ToolVersionConfig, error)
}

// ProcessSupervisor is the process-control surface the manager drives.
// Satisfied by *Supervisor.
type ProcessSupervisor interface {
	Start(key Key, inv Invocation) (*ManagedProcess, error)
	Stop(p *ManagedProcess, timeout time.Duration) error
	Poll(p *ManagedProcess) State
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	// StopTimeout bounds the cooperative-shutdown wait per process
	// before escalating to a kill.
	StopTimeout time.Duration
	// MaxParallel bounds concurrent start/stop operations across
	// independent keys within one refresh.
	MaxParallel int
	// Builder resolves a config and allocated port into a command
	// descriptor. Defaults to BuildProxyInvocation.
	Builder InvocationBuilder
}

// Manager is the reconciliation engine: it keeps the set of running tool
// proxy processes synchronized with the desired configs from the store.
// At most one Refresh runs at a time; a Refresh arriving mid-flight
// queues behind the in-flight one and then runs against the
// then-current desired set.
type Manager struct {
	refreshMu sync.Mutex

	source   ConfigSource
	ports    *PortAllocator
	registry *Registry
	sup      ProcessSupervisor
	builder  InvocationBuilder

	stopTimeout time.Duration
	maxParallel int
	logger      *slog.Logger
}

// New creates a manager over its collaborators. The registry and
// allocator are owned, explicit state; separate manager instances never
// interfere.
func New(source ConfigSource, ports *PortAllocator, registry *Registry, sup ProcessSupervisor, opts Options, logger *slog.Logger) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.Builder == nil {
		opts.Builder = BuildProxyInvocation
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:      source,
		ports:       ports,
		registry:    registry,
		sup:         sup,
		builder:     opts.Builder,
		stopTimeout: opts.StopTimeout,
		maxParallel: opts.MaxParallel,
		logger:      logger.With("component", "manager"),
	}
}

type desiredEntry struct {
	cfg         ToolVersionConfig
	fingerprint string
}

// Refresh reconciles the running set against the store's desired set.
// Per-tool failures are captured in the result; the only whole-call
// failure is an unavailable config store, which aborts before any
// process mutation.
func (m *Manager) Refresh(ctx context.Context) (*RefreshResult, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	res := &RefreshResult{ID: uuid.New().String()[:8]}
	logger := m.logger.With("refresh_id", res.ID)

	configs, err := m.source.FetchToolConfigs(ctx)
	if err != nil {
		logger.Error("config store unavailable, aborting refresh", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrConfigStoreUnavailable, err)
	}

	// Validate and fingerprint. Invalid configs fail individually and
	// never abort the pass.
	var mu sync.Mutex // guards res
	desired := make(map[Key]desiredEntry, len(configs))
	for _, cfg := range configs {
		if err := ValidateConfig(cfg); err != nil {
			logger.Warn("skipping invalid config", "key", cfg.Key().String(), "error", err)
			res.Failed = append(res.Failed, RefreshFailure{Key: cfg.Key().String(), Reason: err.Error()})
			continue
		}
		desired[cfg.Key()] = desiredEntry{cfg: cfg, fingerprint: Fingerprint(cfg)}
	}

	snapshot := m.registry.Snapshot()

	var toStop, toStart, toRestart []Key
	for key, p := range snapshot {
		want, ok := desired[key]
		switch {
		case !ok:
			toStop = append(toStop, key)
		case want.fingerprint != p.Fingerprint:
			toRestart = append(toRestart, key)
		default:
			res.Unchanged = append(res.Unchanged, key.String())
		}
	}
	for key := range desired {
		if _, ok := snapshot[key]; !ok {
			toStart = append(toStart, key)
		}
	}

	logger.Info("reconciling",
		"desired", len(desired), "running", len(snapshot),
		"to_start", len(toStart), "to_stop", len(toStop), "to_restart", len(toRestart),
	)

	// Stops first (removed tools and the old half of restarts) so a
	// restarted key can reclaim its port. Independent keys in parallel.
	restarting := make(map[Key]bool, len(toRestart))
	for _, key := range toRestart {
		restarting[key] = true
	}
	restartable := make(map[Key]bool, len(toRestart))
	g := new(errgroup.Group)
	g.SetLimit(m.maxParallel)
	for _, key := range append(append([]Key{}, toStop...), toRestart...) {
		key := key
		p := snapshot[key]
		g.Go(func() error {
			err := m.stopOne(p, m.stopTimeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Leaked at the OS level; the port lease is kept so the
				// allocator cannot double-book it.
				res.Failed = append(res.Failed, RefreshFailure{Key: key.String(), Reason: err.Error()})
				return nil
			}
			if restarting[key] {
				restartable[key] = true
			} else {
				res.Stopped = append(res.Stopped, key.String())
			}
			return nil
		})
	}
	g.Wait()

	// Starts: new tools and the new half of restarts.
	startKeys := append([]Key{}, toStart...)
	for key := range restartable {
		startKeys = append(startKeys, key)
	}
	g = new(errgroup.Group)
	g.SetLimit(m.maxParallel)
	for _, key := range startKeys {
		key := key
		entry := desired[key]
		restarted := restartable[key]
		g.Go(func() error {
			err := m.startOne(entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Not retried this pass; the config stays desired and
				// absent, so the next refresh tries again.
				logger.Warn("start failed", "key", key.String(), "error", err)
				res.Failed = append(res.Failed, RefreshFailure{Key: key.String(), Reason: err.Error()})
				return nil
			}
			if restarted {
				res.Restarted = append(res.Restarted, key.String())
			} else {
				res.Started = append(res.Started, key.String())
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(res.Started)
	sort.Strings(res.Stopped)
	sort.Strings(res.Restarted)
	sort.Strings(res.Unchanged)
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].Key < res.Failed[j].Key })
	res.Duration = time.Since(start)

	logger.Info("refresh complete",
		"started", len(res.Started), "stopped", len(res.Stopped),
		"restarted", len(res.Restarted), "unchanged", len(res.Unchanged),
		"failed", len(res.Failed), "duration", res.Duration,
	)
	return res, nil
}

// stopOne stops a process and, on confirmed reap, releases its port and
// registry entry. On stop timeout the entry is still removed (the
// process is no longer owned) but the port lease is kept.
func (m *Manager) stopOne(p *ManagedProcess, timeout time.Duration) error {
	err := m.sup.Stop(p, timeout)
	m.registry.Remove(p.Key)
	if err != nil {
		return err
	}
	m.ports.Release(p.Port)
	return nil
}

// startOne allocates a port, builds the invocation, and launches the
// process. Any port allocated but not consumed is released.
func (m *Manager) startOne(entry desiredEntry) error {
	port, err := m.ports.Allocate(entry.cfg.PreferredPort)
	if err != nil {
		return err
	}
	inv := m.builder(entry.cfg, port)
	p, err := m.sup.Start(entry.cfg.Key(), inv)
	if err != nil {
		m.ports.Release(port)
		return err
	}
	p.Fingerprint = entry.fingerprint
	m.registry.Put(p.Key, p)
	return nil
}

// StatusSnapshot re-polls every managed process and returns the
// externally visible view, ordered by tool then version. Liveness is
// checked fresh, not cached; commands are redacted.
func (m *Manager) StatusSnapshot() []StatusView {
	snapshot := m.registry.Snapshot()
	views := make([]StatusView, 0, len(snapshot))
	for key, p := range snapshot {
		state := m.sup.Poll(p)
		views = append(views, StatusView{
			Tool:    key.Tool,
			Version: key.Version,
			Port:    p.Port,
			Running: state == StateRunning,
			State:   state.String(),
			Command: p.Redacted,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Tool != views[j].Tool {
			return views[i].Tool < views[j].Tool
		}
		return views[i].Version < views[j].Version
	})
	return views
}

// Shutdown stops every managed process, clamping each cooperative wait
// to the context deadline when one is set. Used on daemon exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	timeout := m.stopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	snapshot := m.registry.Snapshot()
	m.logger.Info("shutting down managed processes", "count", len(snapshot))

	g := new(errgroup.Group)
	g.SetLimit(m.maxParallel)
	for _, p := range snapshot {
		p := p
		g.Go(func() error {
			if err := m.stopOne(p, timeout); err != nil {
				m.logger.Error("shutdown stop failed", "key", p.Key.String(), "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
