package consensus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactorialWeight(t *testing.T) {
	assert.Equal(t, 1.0, factorialWeight(1.0, 0))
	assert.Equal(t, 1.0, factorialWeight(1.0, 1))
	assert.Equal(t, 0.5, factorialWeight(1.0, 2))
	assert.InDelta(t, 1.0/6.0, factorialWeight(1.0, 3), 1e-12)
	assert.InDelta(t, 0.9/24.0, factorialWeight(0.9, 4), 1e-12)
}

func TestSubmitVote_MinedHashMeetsDifficulty(t *testing.T) {
	c := New(0.66, 1)
	ok, msg := c.SubmitVote("agent-1", "proposal-x", 0.9, nil)
	require.True(t, ok, msg)

	vote := c.GetVote("agent-1")
	require.NotNil(t, vote)
	assert.True(t, strings.HasPrefix(vote.VoteHash, "0"), "hash %s must carry the zero prefix", vote.VoteHash)
	assert.Equal(t, 1, vote.Position)
	assert.InDelta(t, 0.9, vote.FactorialWeight, 1e-12, "position 1 keeps the full initial weight")
}

func TestSubmitVote_AutoRegistersVoter(t *testing.T) {
	c := New(0.66, 1)
	ok, _ := c.SubmitVote("unknown-agent", "p", 0.5, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.5, c.GetVote("unknown-agent").FactorialWeight, 1e-12, "default base weight is 1.0")
}

func TestResubmission_UpdatesInPlace(t *testing.T) {
	c := New(0.9, 1)
	require.True(t, first(c.SubmitVote("a", "x", 0.9, nil)))
	require.True(t, first(c.SubmitVote("b", "y", 0.8, nil)))
	require.Equal(t, 2, c.VoteCount())

	// Agent a changes its mind: count unchanged, position retained.
	require.True(t, first(c.SubmitVote("a", "y", 0.7, nil)))
	assert.Equal(t, 2, c.VoteCount())

	vote := c.GetVote("a")
	assert.Equal(t, "y", vote.Proposal)
	assert.Equal(t, 1, vote.Position)
	assert.InDelta(t, 0.7, vote.FactorialWeight, 1e-12)
}

// Three voters at diminishing weights converge on X.
func TestConsensusRound(t *testing.T) {
	c := New(0.66, 1)
	c.RegisterVoter("a", 1.0)
	c.RegisterVoter("b", 0.5)
	c.RegisterVoter("c", 1.0/3.0)

	require.True(t, first(c.SubmitVote("a", "X", 0.9, nil)))
	require.True(t, first(c.SubmitVote("b", "Y", 0.7, nil)))
	require.True(t, first(c.SubmitVote("c", "X", 0.85, nil)))

	result := c.Finalize()
	assert.True(t, result.ConsensusReached)
	assert.Equal(t, "X", result.ConsensusResult)
	assert.GreaterOrEqual(t, result.SupportPercentage, 0.66)
	assert.Equal(t, 3, result.VoteCount)

	// weights: a=0.9 (pos1), b=0.35/2 (pos2), c=0.2833/6 (pos3)
	wantX := 0.9 + (1.0/3.0)*0.85/6.0
	wantTotal := wantX + 0.5*0.7/2.0
	assert.InDelta(t, wantX, result.WinningWeight, 1e-9)
	assert.InDelta(t, wantTotal, result.TotalWeight, 1e-9)

	stats := result.Proposals["X"]
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, []string{"a", "c"}, stats.Agents)
}

func TestConsensusNotReachedBelowThreshold(t *testing.T) {
	c := New(0.95, 1)
	require.True(t, first(c.SubmitVote("a", "X", 0.9, nil)))
	require.True(t, first(c.SubmitVote("b", "Y", 0.9, nil)))

	result := c.Finalize()
	assert.False(t, result.ConsensusReached)
	assert.Empty(t, result.ConsensusResult)

	_, _, details := c.Status()
	assert.NotEmpty(t, details.LeadingProposal)
	assert.Less(t, details.ConsensusRatio, 0.95)
}

func TestFinalize_Idempotent(t *testing.T) {
	c := New(0.5, 1)
	require.True(t, first(c.SubmitVote("a", "X", 0.9, nil)))

	r1 := c.Finalize()
	r2 := c.Finalize()
	assert.Equal(t, r1.ConsensusReached, r2.ConsensusReached)
	assert.Equal(t, r1.ConsensusResult, r2.ConsensusResult)
	assert.Equal(t, r1.VoteCount, r2.VoteCount)
	assert.Equal(t, r1.Proposals, r2.Proposals)
}

func TestTieBreak_EarlierThenLexicographic(t *testing.T) {
	c := New(0.4, 0)
	c.RegisterVoter("a", 1.0)
	c.RegisterVoter("b", 1.0)

	require.True(t, first(c.SubmitVote("a", "X", 1.0, nil)))
	// Position 2 halves the weight, so double confidence lands an exact tie.
	require.True(t, first(c.SubmitVote("b", "Y", 2.0, nil)))

	result := c.Finalize()
	assert.Equal(t, "X", result.ConsensusResult, "equal weight resolves to the earlier first vote")
}

func TestTopVotes_OrderedByWeight(t *testing.T) {
	c := New(0.66, 1)
	require.True(t, first(c.SubmitVote("a", "X", 0.9, nil)))
	require.True(t, first(c.SubmitVote("b", "X", 0.9, nil)))
	require.True(t, first(c.SubmitVote("c", "X", 0.9, nil)))

	top := c.TopVotes(2)
	require.Len(t, top, 2)
	assert.GreaterOrEqual(t, top[0].FactorialWeight, top[1].FactorialWeight)
	assert.Equal(t, "a", top[0].AgentID, "earliest position carries the largest weight")
}

func first(ok bool, _ string) bool { return ok }
