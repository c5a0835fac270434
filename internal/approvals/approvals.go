// Package approvals implements the Pending Approvals component (§4.6): a
// flat, ephemeral table correlating an agent-triggered tool invocation
// with an external (human or policy) decision. Grounded on the pending
// permission map + per-request response channel pattern in the teacher's
// acp.SessionManager (pendingPermissions map, ResponseCh, and the
// wait-with-timeout goroutine), generalized from a 5-minute fixed
// timeout to a configurable default and adapted to resolve with a
// {approved, reason} outcome rather than a JSON-RPC option id.
package approvals

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/events"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/telemetry/metrics"
)

// defaultTimeout resolves an approval as denied if no decision arrives in
// time (§4.6: "default timeout (30s)").
const defaultTimeout = 30 * time.Second

// Decision is the terminal outcome of a pending approval.
type Decision struct {
	Approved bool
	Reason   string
}

// Pending is one outstanding approval request, correlating an agent tool
// call with the decision channel its creator (or a timeout) will fill.
type Pending struct {
	ID         string
	SessionID  string
	TeamName   string
	ToolName   string
	ToolInput  any
	Reason     string
	CreatedAt  time.Time

	responseCh chan Decision
	once       sync.Once
}

// resolve fulfills the pending request's decision channel exactly once;
// later calls are no-ops, mirroring the teacher's "already responded to
// or timed out" non-blocking send guard.
func (p *Pending) resolve(d Decision) {
	p.once.Do(func() {
		p.responseCh <- d
	})
}

// Table is the flat, in-memory registry of outstanding approvals (§4.6:
// "The table is flat (no persistence); approvals are ephemeral").
type Table struct {
	mu      sync.Mutex
	pending map[string]*Pending

	bus     events.Publisher
	logger  *logger.Logger
	timeout time.Duration
	metrics *metrics.Metrics

	counter int64
	now     func() time.Time
}

// New constructs an empty Table. bus may be nil, in which case lifecycle
// events are dropped. timeout defaults to 30s when zero. m may be nil, in
// which case metrics are skipped.
func New(bus events.Publisher, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Table {
	if log == nil {
		log = logger.NewNop()
	}
	if bus == nil {
		bus = noopPublisher{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Table{
		pending: make(map[string]*Pending),
		bus:     bus,
		logger:  log.WithFields(zap.String("component", "approvals")),
		timeout: timeout,
		metrics: m,
		now:     time.Now,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, subject string, payload any) error { return nil }

// CreatePendingPermission registers a new approval request, emits
// "permission.created", and returns the request plus a function that
// blocks until a decision is resolved, cancelled, or the timeout elapses
// (§4.6 "createPendingPermission"). timeout overrides the table default
// when positive.
func (t *Table) CreatePendingPermission(sessionID, teamName, toolName string, toolInput any, reason string, timeout time.Duration) (*Pending, func() Decision) {
	if timeout <= 0 {
		timeout = t.timeout
	}

	p := &Pending{
		ID:         t.nextID(),
		SessionID:  sessionID,
		TeamName:   teamName,
		ToolName:   toolName,
		ToolInput:  toolInput,
		Reason:     reason,
		CreatedAt:  t.now(),
		responseCh: make(chan Decision, 1),
	}

	t.mu.Lock()
	t.pending[p.ID] = p
	n := len(t.pending)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SetApprovalPending(n)
	}

	publishCtx := context.Background()
	_ = t.bus.Publish(publishCtx, "permission.created", p)

	await := func() Decision {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		var decision Decision
		select {
		case decision = <-p.responseCh:
		case <-timer.C:
			decision = Decision{Approved: false, Reason: "timed out"}
			p.resolve(decision)
		}

		t.mu.Lock()
		delete(t.pending, p.ID)
		remaining := len(t.pending)
		t.mu.Unlock()

		outcome := "denied"
		if decision.Approved {
			outcome = "approved"
		} else if decision.Reason == "timed out" || decision.Reason == "canceled" || decision.Reason == "shutting down" {
			outcome = decision.Reason
		}
		if t.metrics != nil {
			t.metrics.SetApprovalPending(remaining)
			t.metrics.IncApprovalResolved(outcome)
		}
		_ = t.bus.Publish(publishCtx, "permission.resolved", map[string]any{"id": p.ID, "decision": decision, "outcome": outcome})

		return decision
	}

	return p, await
}

// ResolvePendingPermission resolves id's future with approved/reason. A
// no-op if id is unknown or already resolved (§4.6).
func (t *Table) ResolvePendingPermission(id string, approved bool, reason string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	p.resolve(Decision{Approved: approved, Reason: reason})
}

// CancelPendingPermission resolves id as denied with reason "canceled"
// (§4.6). A no-op if id is unknown.
func (t *Table) CancelPendingPermission(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	t.mu.Unlock()
	if !ok {
		return
	}
	p.resolve(Decision{Approved: false, Reason: "canceled"})
}

// ClearAll resolves every outstanding approval as denied with reason
// "shutting down" (§4.6).
func (t *Table) ClearAll() {
	t.mu.Lock()
	pending := make([]*Pending, 0, len(t.pending))
	for _, p := range t.pending {
		pending = append(pending, p)
	}
	t.mu.Unlock()

	for _, p := range pending {
		p.resolve(Decision{Approved: false, Reason: "shutting down"})
	}
}

// Get returns the pending request for id, if still outstanding.
func (t *Table) Get(id string) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	return p, ok
}

// Len reports the number of currently outstanding approvals.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) nextID() string {
	n := atomic.AddInt64(&t.counter, 1)
	return fmt.Sprintf("perm_%d_%d", t.now().UnixMilli(), n)
}
