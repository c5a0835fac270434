package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/transport/sshconfig"
)

// defaultSSHPort, defaultConnectTimeout, and defaultKeepAlive are the
// "sensible defaults" §6 names as the lowest-precedence layer of SSH
// configuration.
const (
	defaultSSHPort       = 22
	defaultConnectTimeout = 30 * time.Second
	defaultKeepAlive      = 30 * time.Second
)

// Remote drives an agent CLI process over an SSH exec channel. No SSH
// client library exists anywhere in the retrieval pack, while every
// example that spawns an external process does so via os/exec, so this is
// "the same Local transport, with ssh as argv0" rather than a bespoke
// protocol implementation built on golang.org/x/crypto/ssh (§9 Design
// Note, completed by SPEC_FULL.md's Remote SSH Config Resolution module).
type Remote struct {
	*process
}

// NewRemote constructs a Remote transport for key, not yet spawned.
func NewRemote(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) *Remote {
	if log == nil {
		log = logger.NewNop()
	}
	scoped := log.WithFields(zap.String("component", "transport.remote"), zap.String("key", key))

	newCmd := func(ctx context.Context) (*exec.Cmd, error) {
		eff, err := resolveSSHConfig(cfg)
		if err != nil {
			return nil, err
		}

		args := buildArgs(cfg, sessionID, ModeResume)
		remoteCmd := "cd " + quoteSingle(cfg.Path) + " && claude " + joinQuoted(args)

		sshArgs := eff.sshArgs()
		sshArgs = append(sshArgs, eff.destination(), remoteCmd)

		return exec.CommandContext(ctx, "ssh", sshArgs...), nil
	}

	return &Remote{process: newProcess(key, newCmd, []byte("cancel\n"), cfg.IdleTimeout, scoped)}
}

// effectiveSSHConfig is the result of layering §6's three tiers:
// explicit remoteOptions, then parsed ~/.ssh/config, then defaults.
type effectiveSSHConfig struct {
	host                  string
	user                  string
	port                  int
	identityFile          string
	strictHostKeyChecking string
	connectTimeout        time.Duration
	keepAliveInterval     time.Duration
}

func resolveSSHConfig(cfg team.TeamConfig) (effectiveSSHConfig, error) {
	alias, userFromSpec := sshconfig.HostAlias(cfg.Remote)
	if alias == "" {
		return effectiveSSHConfig{}, fmt.Errorf("team %q: empty remote host spec", cfg.TeamName)
	}

	parsed, err := sshconfig.Lookup(alias)
	if err != nil {
		return effectiveSSHConfig{}, fmt.Errorf("team %q: read ssh config: %w", cfg.TeamName, err)
	}

	eff := effectiveSSHConfig{
		host:                  alias,
		user:                  os.Getenv("USER"),
		port:                  defaultSSHPort,
		strictHostKeyChecking: "accept-new",
		connectTimeout:        defaultConnectTimeout,
		keepAliveInterval:     defaultKeepAlive,
	}

	if parsed.HostName != "" {
		eff.host = parsed.HostName
	}
	if parsed.User != "" {
		eff.user = parsed.User
	}
	if parsed.Port != 0 {
		eff.port = parsed.Port
	}
	if parsed.IdentityFile != "" {
		eff.identityFile = parsed.IdentityFile
	}
	if parsed.StrictHostKeyChecking != "" {
		eff.strictHostKeyChecking = parsed.StrictHostKeyChecking
	}
	if parsed.ServerAliveInterval != 0 {
		eff.keepAliveInterval = time.Duration(parsed.ServerAliveInterval) * time.Second
	}

	if userFromSpec != "" {
		eff.user = userFromSpec
	}

	if opts := cfg.RemoteOptions; opts != nil {
		if opts.Port != 0 {
			eff.port = opts.Port
		}
		if opts.IdentityFile != "" {
			eff.identityFile = opts.IdentityFile
		}
		if opts.ConnectTimeout != 0 {
			eff.connectTimeout = opts.ConnectTimeout
		}
		if opts.KeepAliveInterval != 0 {
			eff.keepAliveInterval = opts.KeepAliveInterval
		}
		if opts.StrictHostKeyChecking != nil {
			if *opts.StrictHostKeyChecking {
				eff.strictHostKeyChecking = "yes"
			} else {
				eff.strictHostKeyChecking = "no"
			}
		}
	}

	return eff, nil
}

func (e effectiveSSHConfig) destination() string {
	if e.user != "" {
		return e.user + "@" + e.host
	}
	return e.host
}

func (e effectiveSSHConfig) sshArgs() []string {
	args := []string{
		"-p", strconv.Itoa(e.port),
		"-o", "ConnectTimeout=" + strconv.Itoa(int(e.connectTimeout.Seconds())),
		"-o", "ServerAliveInterval=" + strconv.Itoa(int(e.keepAliveInterval.Seconds())),
		"-o", "StrictHostKeyChecking=" + e.strictHostKeyChecking,
	}
	if e.identityFile != "" {
		args = append(args, "-i", e.identityFile)
	}
	return args
}

// quoteSingle wraps s in single quotes, escaping embedded single quotes via
// escapeSingleQuotes (§6).
func quoteSingle(s string) string {
	return "'" + escapeSingleQuotes(s) + "'"
}

func joinQuoted(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteSingle(a)
	}
	return strings.Join(quoted, " ")
}
