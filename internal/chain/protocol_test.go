package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/internal/consensus"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
)

func newTestProtocol() *Protocol {
	return NewProtocol(trace.NewTree(trace.Offline()))
}

func TestCreateTrainingBlock_SetsRoot(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	assert.Empty(t, p.RootHash())

	blockID, err := p.CreateTrainingBlock(ctx, "agent-1", "perception", nil)
	require.NoError(t, err)

	node := p.tree.GetMemory(blockID)
	require.NotNil(t, node)
	assert.Equal(t, "training_block_perception", node.NodeType)
	assert.Equal(t, p.ProtocolID, node.Metadata["protocol_id"])
	assert.Equal(t, node.Hash, p.RootHash())

	// A second block does not displace the root.
	_, err = p.CreateTrainingBlock(ctx, "agent-1", "reasoning", nil)
	require.NoError(t, err)
	assert.Equal(t, node.Hash, p.RootHash())
}

func TestAddChildBlock_CommitsParentHash(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	parentID, err := p.CreateTrainingBlock(ctx, "agent-1", "reasoning", nil)
	require.NoError(t, err)
	parent := p.tree.GetMemory(parentID)

	childID, err := p.AddChildBlock(ctx, parentID, "agent-1", "action", nil)
	require.NoError(t, err)

	child := p.tree.GetMemory(childID)
	assert.Equal(t, "child_block_action", child.NodeType)
	assert.Equal(t, parent.Hash, child.Metadata["parent_hash"])
	assert.Equal(t, parentID, child.Metadata["parent_id"])

	children := p.ChildBlocks(parentID)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].NodeID)
}

func TestAddChildBlock_MissingParent(t *testing.T) {
	p := newTestProtocol()
	_, err := p.AddChildBlock(context.Background(), "no-such-block", "agent-1", "action", nil)
	assert.Error(t, err)
}

func TestAddLLMCall_StoresPromptAndResult(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	blockID, err := p.CreateTrainingBlock(ctx, "agent-1", "reasoning", nil)
	require.NoError(t, err)

	prompt := "Summarize the sensor readings from the last hour."
	result := "All readings nominal."
	callID, err := p.AddLLMCall(ctx, blockID, prompt, result, nil)
	require.NoError(t, err)

	call := p.tree.GetMemory(callID)
	assert.Equal(t, "llm_call", call.NodeType)
	assert.Equal(t, len(prompt), call.Metadata["prompt_length"])

	children := p.tree.GetChildren(callID)
	require.Len(t, children, 2)
	types := []string{children[0].NodeType, children[1].NodeType}
	assert.Contains(t, types, "llm_prompt")
	assert.Contains(t, types, "llm_result")
}

func TestRegisterConsensusReport(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	blockID, err := p.CreateTrainingBlock(ctx, "agent-1", "decision", nil)
	require.NoError(t, err)

	votes := []consensus.Vote{
		{AgentID: "a", Proposal: "X", Confidence: 0.9},
		{AgentID: "b", Proposal: "X", Confidence: 0.8},
	}
	reportID, err := p.RegisterConsensusReport(ctx, blockID, "X accepted", votes, nil)
	require.NoError(t, err)

	report := p.tree.GetMemory(reportID)
	assert.Equal(t, "consensus_report", report.NodeType)
	assert.Equal(t, 2, report.Metadata["vote_count"])
	assert.Equal(t, blockID, report.ParentID)
}

func TestVerifyChainIntegrity(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	rootID, err := p.CreateTrainingBlock(ctx, "agent-1", "perception", nil)
	require.NoError(t, err)
	midID, err := p.AddChildBlock(ctx, rootID, "agent-1", "reasoning", nil)
	require.NoError(t, err)
	leafID, err := p.AddChildBlock(ctx, midID, "agent-1", "action", nil)
	require.NoError(t, err)

	valid, path, err := p.VerifyChainIntegrity(leafID)
	require.NoError(t, err)
	assert.True(t, valid)
	require.Len(t, path, 3)
	assert.Equal(t, rootID, path[0].NodeID)
	assert.Equal(t, leafID, path[2].NodeID)

	// Tampering with a node in the chain breaks verification.
	p.tree.GetMemory(midID).Content = "rewritten history"
	valid, _, err = p.VerifyChainIntegrity(leafID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTrainingBlocksForAgent_FiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	blockID, err := p.CreateTrainingBlock(ctx, "agent-1", "perception", nil)
	require.NoError(t, err)
	_, err = p.AddChildBlock(ctx, blockID, "agent-1", "action", nil)
	require.NoError(t, err)
	_, err = p.tree.AddMemory(ctx, "agent-1", "loose note", "observation", nil, "")
	require.NoError(t, err)

	blocks := p.TrainingBlocksForAgent("agent-1")
	assert.Len(t, blocks, 2)
}

func TestSearchTrainingData(t *testing.T) {
	ctx := context.Background()
	p := newTestProtocol()

	blockID, err := p.CreateTrainingBlock(ctx, "agent-1", "perception", nil)
	require.NoError(t, err)

	_, err = p.AddTrainingData(ctx, blockID, "lidar frame 17: obstacle at 3m", "sensor", nil)
	require.NoError(t, err)
	_, err = p.AddTrainingData(ctx, blockID, "lidar frame 18: path clear", "sensor", nil)
	require.NoError(t, err)
	// Matching content on a non-data node stays out of the results.
	_, err = p.tree.AddMemory(ctx, "agent-1", "lidar calibration note", "observation", nil, "")
	require.NoError(t, err)

	results := p.SearchTrainingData("lidar", 10)
	assert.Len(t, results, 2)

	capped := p.SearchTrainingData("lidar", 1)
	assert.Len(t, capped, 1)
}
