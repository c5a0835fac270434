package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/irisrun/iris/internal/cache"
	"github.com/irisrun/iris/internal/team"
)

// State is one of the finite states the transport's state machine can be
// in (§4.2).
type State string

const (
	StateStopped     State = "stopped"
	StateConnecting  State = "connecting"
	StateSpawning    State = "spawning"
	StateReady       State = "ready"
	StateBusy        State = "busy"
	StateTerminating State = "terminating"
	StateError       State = "error"
)

// Metrics is the read-only snapshot a transport exposes for pool/telemetry
// consumption, never mutated from outside the transport itself.
type Metrics struct {
	SpawnedAt         time.Time
	MessagesProcessed int64
	LastResponseAt    time.Time
}

// Transport is the capability set the pool depends on, satisfied by both
// Local (child process) and Remote (SSH exec) implementations (§9 Design
// Note: "a capability set {spawn, executeTell, cancel, terminate, metrics,
// status-stream} with two implementations").
type Transport interface {
	// Spawn starts the agent process and blocks until the init frame
	// arrives or spawnTimeout elapses. entry is the SPAWN-typed cache
	// entry that absorbs frames until init, kept distinct from any later
	// TELL entry so a user "hello" can never observe the spawn ping's
	// response (§9 Open Questions).
	Spawn(ctx context.Context, entry *cache.Entry) error

	// ExecuteTell writes entry.TellString as a user message and attaches
	// entry as the current cache entry. Returns a busy error if an entry
	// is already attached, or a state error if not ready.
	ExecuteTell(ctx context.Context, entry *cache.Entry) error

	// Cancel makes a best-effort attempt to interrupt the in-flight
	// request; it is never guaranteed to succeed.
	Cancel() error

	// Terminate sends SIGTERM (or remote equivalent), waits up to a grace
	// period, then forces termination.
	Terminate(ctx context.Context) error

	State() State
	Metrics() Metrics
}

// SpawnMode selects between session creation and resumption launch
// arguments (§6).
type SpawnMode int

const (
	// ModeResume passes --resume <sessionId>.
	ModeResume SpawnMode = iota
	// ModeCreate passes --session-id <sessionId> --print ping. The pool's
	// long-lived transports always use ModeResume, and the session
	// manager's session-file initialization builds its own argument list
	// rather than calling buildArgs.
	ModeCreate
)

// buildArgs constructs the agent CLI argument vector per §6 "Agent launch
// arguments": shared flags, then resume/create mode, then the optional
// per-team flags.
func buildArgs(cfg team.TeamConfig, sessionID string, mode SpawnMode) []string {
	args := []string{
		"--print", "--verbose",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
	}

	switch mode {
	case ModeCreate:
		args = append(args, "--session-id", sessionID, "--print", "ping")
	default:
		if sessionID != "" {
			args = append(args, "--resume", sessionID)
		}
	}

	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.AllowedTools, ","))
	}
	if len(cfg.DisallowedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(cfg.DisallowedTools, ","))
	}
	if prompt := buildSystemPrompt(cfg); prompt != "" {
		args = append(args, "--append-system-prompt", prompt)
	}

	return args
}

// identityTemplate is the fixed per-team preamble every spawned agent
// receives, naming the team it is acting as so a single agent CLI binary
// can serve many teams without per-team binaries or configs (§4.2: "an
// appended system prompt built from a per-team identity template
// concatenated with any per-team extension").
const identityTemplate = "You are the %q team's agent in a multi-agent workspace. Stay within your team's scope."

// buildSystemPrompt concatenates the identity template with cfg's optional
// per-team extension, space-separated, per §4.2. A team with no name (only
// exercised by tests constructing a zero-value TeamConfig) gets no
// identity preamble, just the extension.
func buildSystemPrompt(cfg team.TeamConfig) string {
	if cfg.TeamName == "" {
		return cfg.AppendSystemPrompt
	}
	identity := fmt.Sprintf(identityTemplate, cfg.TeamName)
	if cfg.AppendSystemPrompt == "" {
		return identity
	}
	return identity + " " + cfg.AppendSystemPrompt
}

// escapeSingleQuotes escapes a string for embedding inside single-quoted
// shell text, per §6: "Single quotes in remote paths are escaped as '\''".
func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// ErrBusy is returned by ExecuteTell when a cache entry is already
// attached to the transport.
type ErrBusy struct{ Key string }

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("transport %q is busy with another request", e.Key)
}

// ErrNotReady is returned by ExecuteTell when the transport is not in the
// ready state.
type ErrNotReady struct {
	Key   string
	State State
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("transport %q is not ready (state=%s)", e.Key, e.State)
}
