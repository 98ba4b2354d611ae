package models

import "time"

// Mesh message types carried in the envelope.
const (
	MsgDiscovery            = "discovery"
	MsgDiscoveryResponse    = "discovery_response"
	MsgResourceAnnouncement = "resource_announcement"
	MsgResourceQuery        = "resource_query"
	MsgResourceQueryResp    = "resource_query_response"
	MsgAgentExecute         = "agent_execute"
	MsgAgreementValidation  = "agreement_validation"
	MsgAgreementValResp     = "agreement_validation_response"
	MsgResourceUsage        = "resource_usage"
	MsgHeartbeat            = "heartbeat"
)

// Envelope is the JSON frame exchanged between mesh nodes. Receivers must
// ignore envelopes whose SenderID equals their own node id.
type Envelope struct {
	Type      string                 `json:"type"`
	SenderID  string                 `json:"sender_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// MeshResource describes one resource advertised on the mesh. PeerID is empty
// for locally registered resources and carries the advertising node id for
// remote ones.
type MeshResource struct {
	ResourceID   string                 `json:"resource_id"`
	Type         string                 `json:"type"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	PeerID       string                 `json:"peer_id,omitempty"`
	Location     string                 `json:"location,omitempty"` // "local" or "remote" in query results
	RegisteredAt time.Time              `json:"registered_at"`
	DiscoveredAt time.Time              `json:"discovered_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// PeerInfo is one row in a node's peer table. The live connection is held
// separately by the node so that dropping a link does not erase the peer.
type PeerInfo struct {
	PeerID    string    `json:"peer_id"`
	Address   string    `json:"address"`
	NodeType  string    `json:"node_type"`
	Resources []string  `json:"resources,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}
