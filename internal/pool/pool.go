// Package pool implements the Process Pool component (§4.4): a bounded,
// idle-evictable cache of live transports keyed by (fromTeam->toTeam).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/irisrun/iris/internal/apperr"
	"github.com/irisrun/iris/internal/cache"
	"github.com/irisrun/iris/internal/events"
	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/telemetry/metrics"
	"github.com/irisrun/iris/internal/transport"
)

// defaultHealthSweepInterval is the periodic scan cadence when the caller
// supplies none (§4.4: "default 30s").
const defaultHealthSweepInterval = 30 * time.Second

// defaultSpawnTimeout bounds Spawn when the caller supplies none.
const defaultSpawnTimeout = 30 * time.Second

// NewTransportFunc constructs a not-yet-spawned Transport for key, given
// the target team's config and a durable sessionId. Parameterized so the
// pool never imports team-config-to-argv construction logic directly;
// production wiring passes transport.NewLocal/transport.NewRemote.
type NewTransportFunc func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport

// entry is one live transport slot, tracked for LRU eviction.
type entry struct {
	transport  transport.Transport
	lastUsedAt time.Time
}

// Pool owns at most maxProcesses transports, keyed by "fromTeam->toTeam"
// (§4.4).
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	newTransport NewTransportFunc
	registry     *team.Registry
	logger       *logger.Logger
	metrics      *metrics.Metrics
	bus          events.Publisher

	maxProcesses int
	spawnTimeout time.Duration

	spawnGroup singleflight.Group
	cron       *cronlib.Cron
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, subject string, payload any) error { return nil }

// Config configures a Pool's tunables (§4.4).
type Config struct {
	MaxProcesses        int
	SpawnTimeout        time.Duration
	HealthSweepInterval time.Duration
}

// New constructs a Pool. healthSweepInterval schedules the periodic
// crashed-transport reaper via robfig/cron/v3's "@every" spec. bus may be
// nil, in which case lifecycle events are dropped.
func New(cfg Config, registry *team.Registry, newTransport NewTransportFunc, m *metrics.Metrics, bus events.Publisher, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNop()
	}
	if bus == nil {
		bus = noopPublisher{}
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = 10
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = defaultSpawnTimeout
	}
	if cfg.HealthSweepInterval <= 0 {
		cfg.HealthSweepInterval = defaultHealthSweepInterval
	}

	p := &Pool{
		entries:      make(map[string]*entry),
		newTransport: newTransport,
		registry:     registry,
		logger:       log.WithFields(zap.String("component", "pool")),
		metrics:      m,
		bus:          bus,
		maxProcesses: cfg.MaxProcesses,
		spawnTimeout: cfg.SpawnTimeout,
	}

	p.cron = cronlib.New()
	spec := fmt.Sprintf("@every %s", cfg.HealthSweepInterval)
	if _, err := p.cron.AddFunc(spec, p.healthSweep); err != nil {
		p.logger.Error("failed to schedule health sweep", zap.Error(err))
	} else {
		p.cron.Start()
	}

	return p
}

func key(fromTeam, toTeam string) string {
	return fromTeam + "->" + toTeam
}

// GetOrCreateTransport returns the existing transport for (fromTeam,toTeam)
// if present and healthy, otherwise constructs, evicts-if-full, spawns,
// and inserts one (§4.4). Concurrent callers for the same key share a
// single in-flight spawn via singleflight.
func (p *Pool) GetOrCreateTransport(ctx context.Context, fromTeam, toTeam, sessionID string) (transport.Transport, error) {
	k := key(fromTeam, toTeam)

	p.mu.Lock()
	if e, ok := p.entries[k]; ok && isHealthy(e.transport) {
		e.lastUsedAt = time.Now()
		p.mu.Unlock()
		return e.transport, nil
	}
	p.mu.Unlock()

	cfg, ok := p.registry.Get(toTeam)
	if !ok {
		return nil, apperr.Validation("pool: unknown team %q", toTeam)
	}

	v, err, _ := p.spawnGroup.Do(k, func() (interface{}, error) {
		return p.spawnAndInsert(ctx, k, cfg, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(transport.Transport), nil
}

func (p *Pool) spawnAndInsert(ctx context.Context, k string, cfg team.TeamConfig, sessionID string) (transport.Transport, error) {
	p.mu.Lock()
	if e, ok := p.entries[k]; ok && isHealthy(e.transport) {
		e.lastUsedAt = time.Now()
		p.mu.Unlock()
		return e.transport, nil
	}
	if len(p.entries) >= p.maxProcesses {
		p.evictIdleLocked()
	}
	p.mu.Unlock()

	tr := p.newTransport(k, cfg, sessionID, p.logger)

	spawnCtx, cancel := context.WithTimeout(ctx, p.spawnTimeout)
	defer cancel()

	spawnEntry := cache.New(cache.TypeSpawn, "")
	if err := tr.Spawn(spawnCtx, spawnEntry); err != nil {
		return nil, apperr.Process(err, "pool: spawn transport %q", k)
	}

	p.mu.Lock()
	p.entries[k] = &entry{transport: tr, lastUsedAt: time.Now()}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetPoolSize(p.size())
	}
	_ = p.bus.Publish(ctx, "transport.spawned", map[string]any{"key": k})
	return tr, nil
}

// evictIdleLocked removes the least-recently-used idle entry. Must be
// called with p.mu held. A no-op if every entry is busy.
func (p *Pool) evictIdleLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range p.entries {
		if e.transport.State() == transport.StateBusy {
			continue
		}
		if oldestKey == "" || e.lastUsedAt.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsedAt
		}
	}
	if oldestKey == "" {
		return
	}
	e := p.entries[oldestKey]
	delete(p.entries, oldestKey)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.transport.Terminate(ctx)
		_ = p.bus.Publish(ctx, "transport.terminated", map[string]any{"key": oldestKey, "reason": "evicted"})
	}()
}

func isHealthy(t transport.Transport) bool {
	switch t.State() {
	case transport.StateStopped, transport.StateError:
		return false
	default:
		return true
	}
}

// SendMessage fetches-or-creates the transport for (fromTeam,toTeam), runs
// a TELL cache entry through it, waits for completion with a deadline,
// and returns the distilled response text (§4.4).
func (p *Pool) SendMessage(ctx context.Context, fromTeam, toTeam, sessionID, text string, timeout time.Duration) (string, error) {
	tr, err := p.GetOrCreateTransport(ctx, fromTeam, toTeam, sessionID)
	if err != nil {
		return "", err
	}

	entry := cache.New(cache.TypeTell, text)
	if err := tr.ExecuteTell(ctx, entry); err != nil {
		return "", err
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := entry.Wait(waitCtx); err != nil {
		return "", err
	}

	response, err := transport.DistillResponse(entry.Frames())
	if err != nil {
		return "", err
	}

	k := key(fromTeam, toTeam)
	p.mu.Lock()
	if e, ok := p.entries[k]; ok {
		e.lastUsedAt = time.Now()
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.IncTransportMessages(k)
	}
	return response, nil
}

// TerminateProcess gracefully shuts down and removes the transport for
// (fromTeam,toTeam), if any.
func (p *Pool) TerminateProcess(ctx context.Context, fromTeam, toTeam string) error {
	k := key(fromTeam, toTeam)
	p.mu.Lock()
	e, ok := p.entries[k]
	if ok {
		delete(p.entries, k)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if p.metrics != nil {
		p.metrics.DeleteTransport(k)
		p.metrics.SetPoolSize(p.size())
	}
	err := e.transport.Terminate(ctx)
	_ = p.bus.Publish(ctx, "transport.terminated", map[string]any{"key": k, "reason": "requested"})
	return err
}

// TerminateAll gracefully shuts down every transport in the pool
// concurrently.
func (p *Pool) TerminateAll(ctx context.Context) error {
	p.mu.Lock()
	entries := make(map[string]*entry, len(p.entries))
	for k, e := range p.entries {
		entries[k] = e
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for k, e := range entries {
		wg.Add(1)
		go func(k string, e *entry) {
			defer wg.Done()
			if err := e.transport.Terminate(ctx); err != nil {
				p.logger.Warn("terminate failed during shutdown", zap.String("key", k), zap.Error(err))
			}
			_ = p.bus.Publish(ctx, "transport.terminated", map[string]any{"key": k, "reason": "shutdown"})
		}(k, e)
	}
	wg.Wait()

	if p.metrics != nil {
		p.metrics.SetPoolSize(0)
	}
	return nil
}

// Status is a point-in-time snapshot of one pool entry, returned by
// GetStatus (§4.4: "per-transport metrics snapshot").
type Status struct {
	Key        string
	State      transport.State
	LastUsedAt time.Time
	Metrics    transport.Metrics
}

// GetStatus returns a snapshot of every live transport.
func (p *Pool) GetStatus() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.entries))
	for k, e := range p.entries {
		out = append(out, Status{
			Key:        k,
			State:      e.transport.State(),
			LastUsedAt: e.lastUsedAt,
			Metrics:    e.transport.Metrics(),
		})
	}
	return out
}

func (p *Pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// healthSweep removes transports in a terminal stopped/error state,
// reaping crashed or self-terminated (idle-timeout) transports the
// readLoop/idle timer already detached, refreshes each surviving entry's
// uptime gauge, and publishes a "pool.health" snapshot (§4.4).
func (p *Pool) healthSweep() {
	p.mu.Lock()
	var dead []string
	uptimes := make(map[string]float64, len(p.entries))
	now := time.Now()
	for k, e := range p.entries {
		if !isHealthy(e.transport) {
			dead = append(dead, k)
			continue
		}
		uptimes[k] = now.Sub(e.transport.Metrics().SpawnedAt).Seconds()
	}
	for _, k := range dead {
		delete(p.entries, k)
	}
	size := len(p.entries)
	p.mu.Unlock()

	if len(dead) > 0 {
		p.logger.Info("health sweep reaped dead transports", zap.Strings("keys", dead))
	}
	if p.metrics != nil {
		p.metrics.SetPoolSize(size)
		for _, k := range dead {
			p.metrics.DeleteTransport(k)
		}
		for k, seconds := range uptimes {
			p.metrics.SetTransportUptime(k, seconds)
		}
	}

	ctx := context.Background()
	for _, k := range dead {
		_ = p.bus.Publish(ctx, "transport.terminated", map[string]any{"key": k, "reason": "reaped"})
	}
	_ = p.bus.Publish(ctx, "pool.health", map[string]any{
		"size":         size,
		"maxProcesses": p.maxProcesses,
		"reaped":       dead,
	})
}

// Shutdown stops the health-sweep scheduler and terminates every
// transport.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cron != nil {
		stopCtx := p.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	return p.TerminateAll(ctx)
}
