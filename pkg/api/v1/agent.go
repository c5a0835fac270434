// Package v1 defines the public DTOs consumed by callers outside the
// core (the out-of-scope MCP layer, a future dashboard), adapted from the
// teacher's pkg/api/v1 Docker-agent DTO surface (AgentInstance/AgentType/
// AgentLog) to Iris's process-transport domain: a TransportStatus in
// place of a container instance, with no Docker image/resource-limit
// fields since Iris spawns local or SSH-remote agent processes, not
// containers.
package v1

import "time"

// TransportState mirrors internal/transport.State for external callers
// that should not import the core package directly.
type TransportState string

const (
	TransportStateStopped     TransportState = "stopped"
	TransportStateConnecting  TransportState = "connecting"
	TransportStateSpawning    TransportState = "spawning"
	TransportStateReady       TransportState = "ready"
	TransportStateBusy        TransportState = "busy"
	TransportStateTerminating TransportState = "terminating"
	TransportStateError       TransportState = "error"
)

// TransportStatus is a point-in-time snapshot of one pooled transport,
// the public-facing equivalent of the teacher's AgentInstance.
type TransportStatus struct {
	Key               string         `json:"key"`
	FromTeam          string         `json:"from_team"`
	ToTeam            string         `json:"to_team"`
	State             TransportState `json:"state"`
	SpawnedAt         *time.Time     `json:"spawned_at,omitempty"`
	LastResponseAt    *time.Time     `json:"last_response_at,omitempty"`
	MessagesProcessed int64          `json:"messages_processed"`
	LastUsedAt        time.Time     `json:"last_used_at"`
}

// PoolStatus aggregates every live transport plus its configured bound,
// the public-facing equivalent of the teacher's QueueStatus.
type PoolStatus struct {
	Transports   []TransportStatus `json:"transports"`
	MaxProcesses int               `json:"max_processes"`
}
