package models

import "time"

// Node types recognised by the memory trace. The set is open: callers may
// introduce new tags (e.g. "training_block_step") and hashing always uses the
// canonical string form.
const (
	NodeObservation    = "observation"
	NodeReasoning      = "reasoning"
	NodeAction         = "action"
	NodeConclusion     = "conclusion"
	NodeTrainingData   = "training_data"
	NodeLLMCall        = "llm_call"
	NodeLLMPrompt      = "llm_prompt"
	NodeLLMResult      = "llm_result"
	NodeConsensusRep   = "consensus_report"
	NodeAgreementEvent = "agreement_event"
	NodeEthicalEvent   = "ethical_event"
	NodeTaskEvent      = "task_event"

	// Chain protocol prefixes. A node whose type starts with one of these is
	// treated as a block and must carry parent_hash metadata when chained.
	TrainingBlockPrefix = "training_block_"
	ChildBlockPrefix    = "child_block_"
)

// MemoryNode is one immutable record in an agent's reasoning trace.
// Hash commits to every other field; nodes are never mutated after creation.
type MemoryNode struct {
	NodeID    string                 `json:"node_id"`
	Content   string                 `json:"content"`
	NodeType  string                 `json:"node_type"`
	Metadata  map[string]interface{} `json:"metadata"`
	ParentID  string                 `json:"parent_id,omitempty"` // empty = root
	Timestamp time.Time              `json:"timestamp"`
	Hash      string                 `json:"hash"` // hex SHA-256, see crypto.HashMemoryNode
}
