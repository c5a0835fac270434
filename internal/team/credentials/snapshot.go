// Package credentials snapshots the process environment a team's agent
// process is spawned with, adapted from the teacher's EnvProvider
// (internal/agent/credentials/env_provider.go) which resolved a single
// credential by key; here the snapshot is taken wholesale once at spawn
// time and never mutated thereafter (§5 "Environment and process env are
// snapshot into the transport at spawn and never mutated thereafter").
package credentials

import (
	"os"
	"strings"
)

// knownAPIKeyPatterns are logged as present-but-redacted when a team's
// snapshot is traced, without ever printing the values themselves.
var knownAPIKeyPatterns = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"AZURE_OPENAI_API_KEY",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"GITHUB_TOKEN",
}

// Snapshot takes an immutable copy of the current process environment as
// "KEY=VALUE" pairs, suitable for exec.Cmd.Env / the SSH remote-exec
// environment. prefix, when non-empty, additionally re-exports any
// PREFIX_KEY variable under its unprefixed KEY name, so a team can scope
// overrides without touching the parent process's own environment.
func Snapshot(prefix string) []string {
	base := os.Environ()
	if prefix == "" {
		out := make([]string, len(base))
		copy(out, base)
		return out
	}

	out := make([]string, 0, len(base))
	seen := make(map[string]bool, len(base))
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			seen[key] = true
		}
		out = append(out, kv)
	}
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		unprefixed := strings.TrimPrefix(key, prefix)
		if unprefixed == "" || seen[unprefixed] {
			continue
		}
		out = append(out, unprefixed+"="+value)
	}
	return out
}

// PresentKeys reports which known API-key environment variables are set,
// for startup diagnostics. Values are never returned.
func PresentKeys() []string {
	present := make([]string, 0, len(knownAPIKeyPatterns))
	for _, k := range knownAPIKeyPatterns {
		if os.Getenv(k) != "" {
			present = append(present, k)
		}
	}
	return present
}
