package observability

import "time"

// Provider is the read/control surface the relay core exposes to the
// observability HTTP API, kept as a narrow interface so this package never
// imports the relay package: observability can read and force-disconnect
// agents but can't otherwise reach into the core's internals.
type Provider interface {
	AgentSnapshots() []AgentSnapshot
	RemoveAgent(id string) bool
	PendingCount() int
	ResourceSnapshot() ResourceSnapshot
}

// AgentSnapshot is a read-only view of one registered agent.
type AgentSnapshot struct {
	ID              string    `json:"id"`
	Authed          bool      `json:"authed"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Stale           bool      `json:"stale"`
	Models          []string  `json:"models,omitempty"`
}

// ResourcePoint is one self-monitoring sample of the relay process itself.
type ResourcePoint struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	Goroutines int       `json:"goroutines"`
}

// ResourceSnapshot is the current sample plus a bounded rolling history.
type ResourceSnapshot struct {
	Current ResourcePoint   `json:"current"`
	History []ResourcePoint `json:"history"`
}
