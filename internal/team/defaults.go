package team

import "time"

// defaultIdleTimeout is used when a TeamConfig omits IdleTimeout.
const defaultIdleTimeout = 30 * time.Minute

// ApplyDefaults fills zero-valued tunables on c, mirroring the teacher's
// registry.DefaultAgents() role of supplying a baseline configuration —
// here applied per-team rather than as a single hardcoded catalog entry,
// since Iris teams are user-declared rather than a fixed agent image list.
func ApplyDefaults(c TeamConfig) TeamConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.GrantPermission == "" {
		c.GrantPermission = GrantAsk
	}
	if c.IsRemote() && c.RemoteOptions == nil {
		c.RemoteOptions = &RemoteOptions{}
	}
	return c
}
