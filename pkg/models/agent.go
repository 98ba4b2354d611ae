package models

import "time"

// Agent statuses
const (
	AgentActive     = "active"
	AgentPaused     = "paused"
	AgentRecovered  = "recovered"
	AgentTerminated = "terminated"
)

// Hard per-agent resource ceilings. Spawn requests above these are clamped.
const (
	MaxAgentCPU      = 0.27  // fraction of one core
	MaxAgentMemoryMB = 827.0 // peak RSS in MB
)

// HardwareConstraints caps an agent's share of the host.
type HardwareConstraints struct {
	CPU      float64 `json:"cpu"`    // fraction of one core, <= 0.27
	MemoryMB float64 `json:"memory"` // MB, <= 827
}

// Agent is one governed agent managed by the lifecycle service.
type Agent struct {
	AgentID     string              `json:"agent_id"`
	Name        string              `json:"name"`
	Status      string              `json:"status"`
	Constraints HardwareConstraints `json:"constraints"`
	Plugins     []string            `json:"plugins,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Snapshot is a content-addressed capture of an agent's identity and plugin
// list, sufficient to recover the agent later.
type Snapshot struct {
	SnapshotID string            `json:"snapshot_id"` // hex SHA-256 of the canonical payload
	AgentID    string            `json:"agent_id"`
	Name       string            `json:"name"`
	Plugins    []string          `json:"plugins,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
