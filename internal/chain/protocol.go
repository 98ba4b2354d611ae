package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/consensus"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// trainingDataPrefix marks nodes carrying raw training payloads.
const trainingDataPrefix = "training_data_"

// Protocol builds block-child training hierarchies on top of the memory
// trace. Every block is a regular trace node with a well-known type prefix;
// child blocks commit to their parent's hash in metadata so a chain can be
// verified without a full traversal.
type Protocol struct {
	ProtocolID string

	mu       sync.Mutex
	tree     *trace.Tree
	children map[string][]string // parent block id -> child block ids
	rootHash string
	log      *logrus.Entry
}

// NewProtocol creates a protocol instance over an existing trace store.
func NewProtocol(tree *trace.Tree) *Protocol {
	p := &Protocol{
		ProtocolID: uuid.New().String(),
		tree:       tree,
		children:   make(map[string][]string),
		log:        logrus.WithField("component", "chain"),
	}
	p.log.Infof("Initialized chain protocol %s", p.ProtocolID)
	return p
}

// CreateTrainingBlock starts a new block in an agent's training chain.
// The first block created becomes the chain root.
func (p *Protocol) CreateTrainingBlock(ctx context.Context, agentID, blockType string, metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["protocol_id"] = p.ProtocolID

	blockID, err := p.tree.AddMemory(ctx, agentID,
		fmt.Sprintf("Training block: %s", blockType),
		models.TrainingBlockPrefix+blockType,
		metadata, "")
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.rootHash == "" {
		if node := p.tree.GetMemory(blockID); node != nil {
			p.rootHash = node.Hash
		}
	}
	p.mu.Unlock()

	return blockID, nil
}

// AddChildBlock appends a child block under an existing block. The parent
// must exist; its hash is written into the child's metadata as parent_hash.
func (p *Protocol) AddChildBlock(ctx context.Context, parentID, agentID, blockType string, metadata map[string]interface{}) (string, error) {
	parent := p.tree.GetMemory(parentID)
	if parent == nil {
		return "", fmt.Errorf("%w: parent block %s", models.ErrNotFound, parentID)
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["parent_hash"] = parent.Hash
	metadata["parent_id"] = parentID

	blockID, err := p.tree.AddMemory(ctx, agentID,
		fmt.Sprintf("Child block: %s", blockType),
		models.ChildBlockPrefix+blockType,
		metadata, parentID)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.children[parentID] = append(p.children[parentID], blockID)
	p.mu.Unlock()

	return blockID, nil
}

// AddTrainingData attaches a data node under a block. Data nodes are owned
// by the protocol rather than an agent.
func (p *Protocol) AddTrainingData(ctx context.Context, blockID, content, dataType string, metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["data_type"] = dataType

	return p.tree.AddMemory(ctx, p.ProtocolID, content, trainingDataPrefix+dataType, metadata, blockID)
}

// AddLLMCall records a model invocation under a block. The call node keeps a
// truncated summary; the full prompt and result hang off it as children.
func (p *Protocol) AddLLMCall(ctx context.Context, blockID, prompt, result string, metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["prompt_length"] = len(prompt)
	metadata["result_length"] = len(result)

	content := fmt.Sprintf("LLM call - prompt: %s, result: %s", truncate(prompt, 100), truncate(result, 100))
	callID, err := p.tree.AddMemory(ctx, p.ProtocolID, content, "llm_call", metadata, blockID)
	if err != nil {
		return "", err
	}

	if _, err := p.tree.AddMemory(ctx, p.ProtocolID, prompt, "llm_prompt", nil, callID); err != nil {
		return "", err
	}
	if _, err := p.tree.AddMemory(ctx, p.ProtocolID, result, "llm_result", nil, callID); err != nil {
		return "", err
	}

	return callID, nil
}

// RegisterConsensusReport stores a consensus outcome as a child node of the
// block it applies to, including the full vote list.
func (p *Protocol) RegisterConsensusReport(ctx context.Context, blockID, report string, votes []consensus.Vote, metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	metadata["vote_count"] = len(votes)
	metadata["votes"] = votes

	return p.tree.AddMemory(ctx, p.ProtocolID, report, "consensus_report", metadata, blockID)
}

// VerifyChainIntegrity walks from a block up to its chain root and checks
// every hash and parent link on the way.
func (p *Protocol) VerifyChainIntegrity(blockID string) (bool, []*models.MemoryNode, error) {
	path, err := p.tree.GetMemoryPath(blockID)
	if err != nil {
		return false, nil, err
	}
	return trace.VerifyMemoryTrace(path), path, nil
}

// TrainingBlocksForAgent returns the agent's training and child blocks in
// timestamp order.
func (p *Protocol) TrainingBlocksForAgent(agentID string) []*models.MemoryNode {
	var out []*models.MemoryNode
	for _, n := range p.tree.GetAgentMemories(agentID) {
		if strings.HasPrefix(n.NodeType, models.TrainingBlockPrefix) || strings.HasPrefix(n.NodeType, models.ChildBlockPrefix) {
			out = append(out, n)
		}
	}
	return out
}

// SearchTrainingData returns up to maxResults data nodes matching the query.
func (p *Protocol) SearchTrainingData(query string, maxResults int) []*models.MemoryNode {
	var out []*models.MemoryNode
	for _, n := range p.tree.SearchMemories(query) {
		if strings.HasPrefix(n.NodeType, trainingDataPrefix) {
			out = append(out, n)
			if len(out) >= maxResults {
				break
			}
		}
	}
	return out
}

// ChildBlocks returns the child blocks registered under a parent block.
func (p *Protocol) ChildBlocks(parentID string) []*models.MemoryNode {
	p.mu.Lock()
	ids := append([]string(nil), p.children[parentID]...)
	p.mu.Unlock()

	out := make([]*models.MemoryNode, 0, len(ids))
	for _, id := range ids {
		if n := p.tree.GetMemory(id); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// RootHash returns the hash of the first training block, or empty before one
// exists.
func (p *Protocol) RootHash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rootHash
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
