package transport

import (
	"context"
	"os/exec"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/team/credentials"
	"github.com/irisrun/iris/internal/telemetry/logger"
)

// Local drives an agent CLI child process directly over os/exec, grounded
// on the retrieval pack's claude-manager.go ensureProcess/readLoop pattern.
type Local struct {
	*process
}

// NewLocal constructs a Local transport for key, not yet spawned. The
// agent runs in cfg.Path with the current process environment snapshot
// (§5: "Environment and process env are snapshot into the transport at
// spawn and never mutated thereafter").
func NewLocal(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) *Local {
	if log == nil {
		log = logger.NewNop()
	}
	scoped := log.WithFields(zap.String("component", "transport.local"), zap.String("key", key))

	newCmd := func(ctx context.Context) (*exec.Cmd, error) {
		args := buildArgs(cfg, sessionID, ModeResume)
		cmd := exec.CommandContext(ctx, "claude", args...)
		cmd.Dir = cfg.Path
		cmd.Env = credentials.Snapshot("")
		return cmd, nil
	}

	return &Local{process: newProcess(key, newCmd, []byte{0x1b}, cfg.IdleTimeout, scoped)}
}
