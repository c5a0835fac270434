// Package team holds the typed, validated team registry consumed by the
// session manager and process pool, generalized from the teacher's
// internal/agent/registry (Docker agent-image configs) to Iris's
// TeamConfig entries (§3, §4.3 of the core spec).
package team

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/telemetry/logger"
)

// GrantPermission controls how a team's agent handles tool-permission
// prompts.
type GrantPermission string

const (
	GrantYes     GrantPermission = "yes"
	GrantNo      GrantPermission = "no"
	GrantAsk     GrantPermission = "ask"
	GrantForward GrantPermission = "forward"
)

func (g GrantPermission) valid() bool {
	switch g {
	case GrantYes, GrantNo, GrantAsk, GrantForward, "":
		return true
	default:
		return false
	}
}

// RemoteOptions layers over a parsed ~/.ssh/config entry (§6 "Remote SSH").
// Any non-zero field here other than Passphrase takes precedence over the
// parsed config, which in turn takes precedence over the transport's
// built-in defaults. Passphrase is stored but not applied: the remote
// transport execs the system ssh binary and does not pass it on.
type RemoteOptions struct {
	Port                  int
	IdentityFile          string
	Passphrase            string
	ConnectTimeout        time.Duration
	KeepAliveInterval     time.Duration
	StrictHostKeyChecking *bool
}

// TeamConfig is the immutable snapshot taken at pool/transport creation
// time (§3). Later registry changes only apply to sessions created after
// the change.
type TeamConfig struct {
	TeamName string
	Path     string // project directory: local cwd, or the remote host's working directory for Remote teams

	// Remote, when non-empty, is an "ssh host" or "ssh user@host" spec.
	// Presence of Remote makes this a Remote transport team.
	Remote        string
	RemoteOptions *RemoteOptions

	IdleTimeout time.Duration

	SkipPermissions    bool
	AllowedTools       []string
	DisallowedTools    []string
	AppendSystemPrompt string
	GrantPermission    GrantPermission
}

// IsRemote reports whether this team's agent runs over SSH rather than as a
// local child process.
func (c TeamConfig) IsRemote() bool {
	return c.Remote != ""
}

var systemPathPrefixes = []string{
	"/etc",
	"/usr/bin",
	"/System/",
	"/Windows/",
}

// maxTeamNameBytes bounds team names per §4.3.
const maxTeamNameBytes = 100

var shellMetacharacters = ";&|$`\"'"

// ValidateName applies the team-name rules of §4.3: no control bytes, no
// path separators, no shell metacharacters, no ".." sequences, and a
// 100-byte cap.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("team name must not be empty")
	}
	if len(name) > maxTeamNameBytes {
		return fmt.Errorf("team name %q exceeds %d bytes", name, maxTeamNameBytes)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("team name %q contains a control byte", name)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("team name %q contains a path separator", name)
		}
		if strings.ContainsRune(shellMetacharacters, r) {
			return fmt.Errorf("team name %q contains a shell metacharacter", name)
		}
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("team name %q contains a \"..\" sequence", name)
	}
	return nil
}

// ValidatePath applies the project-path rules of §4.3. It is skipped
// entirely for remote teams, whose path lives on the remote host.
func ValidatePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("team path %q must be absolute", path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("team path %q does not exist: %w", path, err)
	}
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(resolved, prefix) {
			return fmt.Errorf("team path %q resolves under reserved prefix %q", path, prefix)
		}
	}
	home, err := os.UserHomeDir()
	if err == nil {
		sshDir := filepath.Join(home, ".ssh")
		if resolved == sshDir || strings.HasPrefix(resolved, sshDir+string(filepath.Separator)) {
			return fmt.Errorf("team path %q resolves under the user's .ssh directory", path)
		}
	}
	return nil
}

// Validate checks a single TeamConfig against the §4.3 rules.
func Validate(c TeamConfig) error {
	if err := ValidateName(c.TeamName); err != nil {
		return err
	}
	if !c.GrantPermission.valid() {
		return fmt.Errorf("team %q: invalid grantPermission %q", c.TeamName, c.GrantPermission)
	}
	if c.IsRemote() {
		return nil
	}
	if c.Path == "" {
		return fmt.Errorf("team %q: path is required for local teams", c.TeamName)
	}
	return ValidatePath(c.Path)
}

// Registry is a validated, read-mostly collection of TeamConfig, handed to
// the session manager and process pool at construction time.
type Registry struct {
	mu     sync.RWMutex
	teams  map[string]TeamConfig
	logger *logger.Logger
}

// NewRegistry builds a Registry from configs, validating each entry.
// Invalid entries are logged and skipped, mirroring the teacher's
// Registry.LoadFromFile behavior of dropping invalid rows rather than
// failing the whole load.
func NewRegistry(log *logger.Logger, configs []TeamConfig) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Registry{teams: make(map[string]TeamConfig, len(configs)), logger: log}
	for _, c := range configs {
		c = ApplyDefaults(c)
		if err := Validate(c); err != nil {
			r.logger.Warn("skipping invalid team config",
				zap.String("team", c.TeamName), zap.Error(err))
			continue
		}
		r.teams[c.TeamName] = c
	}
	return r
}

// Register adds or replaces a single team entry, validating it first.
func (r *Registry) Register(c TeamConfig) error {
	c = ApplyDefaults(c)
	if err := Validate(c); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[c.TeamName] = c
	return nil
}

// Get returns the config for name, or false if unknown.
func (r *Registry) Get(name string) (TeamConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.teams[name]
	return c, ok
}

// Validate reports whether name is a known, valid team.
func (r *Registry) Validate(name string) error {
	if _, ok := r.Get(name); !ok {
		return fmt.Errorf("unknown team %q", name)
	}
	return nil
}

// All returns every registered team, in no particular order.
func (r *Registry) All() []TeamConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TeamConfig, 0, len(r.teams))
	for _, c := range r.teams {
		out = append(out, c)
	}
	return out
}
