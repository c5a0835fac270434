package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/apperr"
	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/transport/sshconfig"
)

// defaultSessionInitTimeout bounds the short-lived "session-file
// initialization" agent invocation when the caller supplies none (§4.3
// step 3).
const defaultSessionInitTimeout = 30 * time.Second

// Manager is the Session Manager component (§4.3): durable
// (fromTeam,toTeam)->sessionId mapping, a hot-pair cache, and the
// side-effectful session-file initialization that materializes the
// agent's on-disk conversation file.
type Manager struct {
	store    *Store
	cache    *pairCache
	registry *team.Registry
	logger   *logger.Logger

	sessionInitTimeout time.Duration
	newSessionID       func() string
	initSessionFile    func(ctx context.Context, cfg team.TeamConfig, sessionID string) error
}

// New constructs a Manager over an already-open Store and performs §4.3's
// startup recovery.
func New(ctx context.Context, store *Store, registry *team.Registry, sessionInitTimeout time.Duration, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if sessionInitTimeout <= 0 {
		sessionInitTimeout = defaultSessionInitTimeout
	}

	m := &Manager{
		store:              store,
		cache:              newPairCache(),
		registry:           registry,
		logger:             log.WithFields(zap.String("component", "sessionstore.manager")),
		sessionInitTimeout: sessionInitTimeout,
		newSessionID:       uuid.NewString,
	}
	m.initSessionFile = m.initializeSessionFile

	if err := store.ResetRuntimeState(ctx); err != nil {
		return nil, apperr.Internal(err, "sessionstore: startup recovery")
	}
	return m, nil
}

// GetOrCreateSession returns the existing (fromTeam,toTeam) session, or
// creates one: validates both team names against the registry, generates a
// fresh sessionId, runs session-file initialization in the target team's
// project directory, and persists the row (§4.3 steps 1-5).
func (m *Manager) GetOrCreateSession(ctx context.Context, fromTeam, toTeam string) (*Session, error) {
	if sess, ok := m.cache.get(fromTeam, toTeam); ok {
		s := sess
		return &s, nil
	}

	sess, err := m.store.GetByPair(ctx, fromTeam, toTeam)
	if err == nil {
		m.cache.put(*sess)
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Internal(err, "sessionstore: read session for pair %s->%s", fromTeam, toTeam)
	}

	if _, ok := m.registry.Get(fromTeam); !ok {
		return nil, apperr.Validation("sessionstore: unknown fromTeam %q", fromTeam)
	}
	toCfg, ok := m.registry.Get(toTeam)
	if !ok {
		return nil, apperr.Validation("sessionstore: unknown toTeam %q", toTeam)
	}

	sessionID := m.newSessionID()
	if err := m.initSessionFile(ctx, toCfg, sessionID); err != nil {
		return nil, err
	}

	created := &Session{SessionID: sessionID, FromTeam: fromTeam, ToTeam: toTeam}
	if err := m.store.Create(ctx, created); err != nil {
		return nil, apperr.Internal(err, "sessionstore: persist session for pair %s->%s", fromTeam, toTeam)
	}

	m.cache.put(*created)
	return created, nil
}

// initializeSessionFile runs a short-lived agent invocation with
// `--session-id <id> --print ping` in the target team's project
// directory, bounded by sessionInitTimeout, and checks that the
// conventional session file landed on disk (§4.3 step 3). Remote teams'
// session files live on the remote host and are not independently
// checked here; the invocation still runs over the same local/remote
// distinction the transport uses.
func (m *Manager) initializeSessionFile(ctx context.Context, cfg team.TeamConfig, sessionID string) error {
	initCtx, cancel := context.WithTimeout(ctx, m.sessionInitTimeout)
	defer cancel()

	args := []string{
		"--session-id", sessionID, "--print", "ping",
		"--input-format", "stream-json", "--output-format", "stream-json", "--verbose",
	}

	var cmd *exec.Cmd
	if cfg.IsRemote() {
		alias, _ := sshconfig.HostAlias(cfg.Remote)
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		remoteCmd := "cd '" + strings.ReplaceAll(cfg.Path, "'", `'\''`) + "' && claude " + strings.Join(quoted, " ")
		cmd = exec.CommandContext(initCtx, "ssh", alias, remoteCmd)
	} else {
		cmd = exec.CommandContext(initCtx, "claude", args...)
		cmd.Dir = cfg.Path
	}

	out, err := cmd.Output()
	if err != nil {
		return apperr.Process(err, "sessionstore: session-file initialization for team %q", cfg.TeamName)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return apperr.Process(nil, "sessionstore: session-file initialization for team %q produced no output", cfg.TeamName)
	}

	if !cfg.IsRemote() {
		if err := verifySessionFileExists(cfg.Path, sessionID); err != nil {
			return apperr.Process(err, "sessionstore: session file missing for team %q", cfg.TeamName)
		}
	}
	return nil
}

// verifySessionFileExists checks for the agent's conventional session
// file path: <home>/.claude/projects/<escaped-project-path>/<sessionId>.jsonl
func verifySessionFileExists(projectPath, sessionID string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	escaped := escapeProjectPath(projectPath)
	sessionFile := filepath.Join(home, ".claude", "projects", escaped, sessionID+".jsonl")
	if _, err := os.Stat(sessionFile); err != nil {
		return fmt.Errorf("expected session file %s: %w", sessionFile, err)
	}
	return nil
}

// escapeProjectPath mirrors the agent CLI's own project-path escaping
// convention: every path separator becomes a hyphen.
func escapeProjectPath(path string) string {
	return strings.ReplaceAll(path, string(filepath.Separator), "-")
}

// TouchUsage records a completed request against sessionID and invalidates
// the pair cache entry so the next read observes fresh counters.
func (m *Manager) TouchUsage(ctx context.Context, fromTeam, toTeam, sessionID string) error {
	if err := m.store.TouchUsage(ctx, sessionID); err != nil {
		return apperr.Internal(err, "sessionstore: touch usage for session %s", sessionID)
	}
	m.cache.invalidate(fromTeam, toTeam)
	return nil
}

// SetProcessState updates the session's runtime intent and invalidates the
// pair cache entry.
func (m *Manager) SetProcessState(ctx context.Context, fromTeam, toTeam, sessionID string, state ProcessState) error {
	if err := m.store.SetProcessState(ctx, sessionID, state); err != nil {
		return apperr.Internal(err, "sessionstore: set process state for session %s", sessionID)
	}
	m.cache.invalidate(fromTeam, toTeam)
	return nil
}

// Delete removes a session explicitly (§3: "deleted explicitly") and
// invalidates its pair cache entry.
func (m *Manager) Delete(ctx context.Context, fromTeam, toTeam, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return apperr.Internal(err, "sessionstore: delete session %s", sessionID)
	}
	m.cache.invalidate(fromTeam, toTeam)
	return nil
}
