package consensus

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
)

// Vote is one agent's weighted, mined vote on a proposal.
type Vote struct {
	AgentID         string                 `json:"agent_id"`
	Proposal        string                 `json:"proposal"`
	Confidence      float64                `json:"confidence"`
	BaseWeight      float64                `json:"base_weight"`
	FactorialWeight float64                `json:"factorial_weight"`
	Position        int                    `json:"position"`
	VoteHash        string                 `json:"vote_hash"`
	Nonce           int                    `json:"nonce"`
	Timestamp       time.Time              `json:"timestamp"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// voteHeap is a max-heap keyed by factorial weight.
type voteHeap []*Vote

func (h voteHeap) Len() int            { return len(h) }
func (h voteHeap) Less(i, j int) bool  { return h[i].FactorialWeight > h[j].FactorialWeight }
func (h voteHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *voteHeap) Push(x interface{}) { *h = append(*h, x.(*Vote)) }
func (h *voteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Details describes the current consensus computation.
type Details struct {
	WinningProposal  string    `json:"winning_proposal,omitempty"`
	LeadingProposal  string    `json:"leading_proposal,omitempty"`
	ConsensusRatio   float64   `json:"consensus_ratio"`
	TotalWeight      float64   `json:"total_weight"`
	WinningWeight    float64   `json:"winning_weight"`
	VoteCount        int       `json:"vote_count"`
	SupportingAgents []string  `json:"supporting_agents,omitempty"`
	Threshold        float64   `json:"threshold"`
	ReachedAt        time.Time `json:"reached_at,omitempty"`
}

// ProposalStats aggregates votes per proposal in a finalized result.
type ProposalStats struct {
	Weight        float64  `json:"weight"`
	Count         int      `json:"count"`
	Agents        []string `json:"agents"`
	ConfidenceAvg float64  `json:"confidence_avg"`
	WeightPercent float64  `json:"weight_percent"`
}

// Result is the outcome of finalizing a consensus round.
type Result struct {
	ConsensusID       string                   `json:"consensus_id"`
	ConsensusReached  bool                     `json:"consensus_reached"`
	ConsensusResult   string                   `json:"consensus_result,omitempty"`
	VoteCount         int                      `json:"vote_count"`
	Proposals         map[string]ProposalStats `json:"proposals"`
	SupportPercentage float64                  `json:"support_percentage,omitempty"`
	WinningWeight     float64                  `json:"winning_weight,omitempty"`
	TotalWeight       float64                  `json:"total_weight,omitempty"`
	Timestamp         time.Time                `json:"timestamp"`
}

// Consensus runs factorial-weighted voting over proposals. Each vote is mined
// against an adaptive difficulty, each agent holds exactly one live vote, and
// later votes carry factorially diminished weight.
type Consensus struct {
	mu           sync.Mutex
	ConsensusID  string
	threshold    float64
	difficulty   int
	voterWeights map[string]float64
	votes        map[string]*Vote // agent id -> current vote
	heap         voteHeap
	reached      bool
	result       string
	details      Details
	createdAt    time.Time
	lastUpdated  time.Time
	log          *logrus.Entry
}

// New creates a consensus round. Threshold is the required weight share in
// (0,1]; difficulty is the number of leading zero nibbles a vote hash needs.
func New(threshold float64, difficulty int) *Consensus {
	c := &Consensus{
		ConsensusID:  uuid.New().String(),
		threshold:    threshold,
		difficulty:   difficulty,
		voterWeights: make(map[string]float64),
		votes:        make(map[string]*Vote),
		createdAt:    time.Now().UTC(),
		log:          logrus.WithField("component", "consensus"),
	}
	c.lastUpdated = c.createdAt
	return c
}

// RegisterVoter upserts a voter's base weight.
func (c *Consensus) RegisterVoter(agentID string, weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voterWeights[agentID] = weight
	c.lastUpdated = time.Now().UTC()
}

// factorialWeight diminishes a base weight by 1/position!.
func factorialWeight(base float64, position int) float64 {
	if position <= 1 {
		return base
	}
	f := 1.0
	for i := 2; i <= position; i++ {
		f *= float64(i)
	}
	return base / f
}

func voteHashInput(agentID, proposal string, nonce int, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d:%s", agentID, proposal, nonce, ts.UTC().Format(crypto.CanonicalTimeLayout)))
}

// mineVote searches for a nonce whose hash carries the required zero prefix,
// bounded by an adaptive timeout of min(2s, 0.1s * difficulty).
func (c *Consensus) mineVote(agentID, proposal string, ts time.Time) (int, string, bool) {
	prefix := strings.Repeat("0", c.difficulty)
	timeout := time.Duration(float64(c.difficulty)*0.1*float64(time.Second))
	if timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for nonce := 0; ; nonce++ {
		h := crypto.HashHex(voteHashInput(agentID, proposal, nonce, ts))
		if strings.HasPrefix(h, prefix) {
			return nonce, h, true
		}
		// Check the clock every few hundred attempts to keep mining cheap.
		if nonce%256 == 0 && time.Now().After(deadline) {
			return 0, "", false
		}
	}
}

// SubmitVote mines and records a vote. Unregistered voters are auto-registered
// at weight 1.0. A resubmission by the same agent replaces the previous vote
// in place and retains its original position.
func (c *Consensus) SubmitVote(agentID, proposal string, confidence float64, metadata map[string]interface{}) (bool, string) {
	c.mu.Lock()
	baseWeight, ok := c.voterWeights[agentID]
	if !ok {
		baseWeight = 1.0
		c.voterWeights[agentID] = baseWeight
	}
	c.mu.Unlock()

	ts := time.Now().UTC()
	nonce, voteHash, mined := c.mineVote(agentID, proposal, ts)
	if !mined {
		return false, "vote mining failed to meet difficulty requirement"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	position := len(c.votes) + 1
	if prior, exists := c.votes[agentID]; exists {
		position = prior.Position
	}

	initialWeight := baseWeight * confidence
	vote := &Vote{
		AgentID:         agentID,
		Proposal:        proposal,
		Confidence:      confidence,
		BaseWeight:      baseWeight,
		FactorialWeight: factorialWeight(initialWeight, position),
		Position:        position,
		VoteHash:        voteHash,
		Nonce:           nonce,
		Timestamp:       ts,
		Metadata:        metadata,
	}

	if prior, exists := c.votes[agentID]; exists {
		// Replace the heap entry in place.
		for i, hv := range c.heap {
			if hv == prior {
				c.heap[i] = vote
				heap.Fix(&c.heap, i)
				break
			}
		}
	} else {
		heap.Push(&c.heap, vote)
	}
	c.votes[agentID] = vote

	c.updateStateLocked()

	c.log.Infof("Vote submitted by %s with weight %.4f (pos=%d, nonce=%d)",
		shortID(agentID), vote.FactorialWeight, position, nonce)
	return true, fmt.Sprintf("vote accepted with weight %.4f", vote.FactorialWeight)
}

// updateStateLocked recomputes the winner from the one-vote-per-agent set.
// Ties break toward the proposal whose first vote has the earlier timestamp,
// then lexicographically.
func (c *Consensus) updateStateLocked() {
	if len(c.votes) == 0 {
		return
	}

	type bucket struct {
		weight    float64
		firstVote time.Time
		agents    []string
	}
	buckets := make(map[string]*bucket)
	totalWeight := 0.0

	for _, v := range c.votes {
		b, ok := buckets[v.Proposal]
		if !ok {
			b = &bucket{firstVote: v.Timestamp}
			buckets[v.Proposal] = b
		}
		if v.Timestamp.Before(b.firstVote) {
			b.firstVote = v.Timestamp
		}
		b.weight += v.FactorialWeight
		b.agents = append(b.agents, v.AgentID)
		totalWeight += v.FactorialWeight
	}

	var winner string
	var winning *bucket
	for proposal, b := range buckets {
		switch {
		case winning == nil,
			b.weight > winning.weight,
			b.weight == winning.weight && b.firstVote.Before(winning.firstVote),
			b.weight == winning.weight && b.firstVote.Equal(winning.firstVote) && proposal < winner:
			winner, winning = proposal, b
		}
	}

	ratio := 0.0
	if totalWeight > 0 {
		ratio = winning.weight / totalWeight
	}

	sort.Strings(winning.agents)
	now := time.Now().UTC()
	if ratio >= c.threshold {
		c.reached = true
		c.result = winner
		c.details = Details{
			WinningProposal:  winner,
			ConsensusRatio:   ratio,
			TotalWeight:      totalWeight,
			WinningWeight:    winning.weight,
			VoteCount:        len(c.votes),
			SupportingAgents: winning.agents,
			Threshold:        c.threshold,
			ReachedAt:        now,
		}
		c.log.Infof("Consensus reached: %s with %.2f%% support", winner, ratio*100)
	} else {
		c.reached = false
		c.result = ""
		c.details = Details{
			LeadingProposal: winner,
			ConsensusRatio:  ratio,
			TotalWeight:     totalWeight,
			WinningWeight:   winning.weight,
			VoteCount:       len(c.votes),
			Threshold:       c.threshold,
		}
	}
	c.lastUpdated = now
}

// VoteCount returns the number of live votes (one per agent).
func (c *Consensus) VoteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.votes)
}

// GetVote returns an agent's current vote, or nil.
func (c *Consensus) GetVote(agentID string) *Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes[agentID]
}

// TopVotes returns up to count votes ordered by factorial weight descending.
func (c *Consensus) TopVotes(count int) []*Vote {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmp := make(voteHeap, len(c.heap))
	copy(tmp, c.heap)
	heap.Init(&tmp)

	out := make([]*Vote, 0, count)
	for len(tmp) > 0 && len(out) < count {
		out = append(out, heap.Pop(&tmp).(*Vote))
	}
	return out
}

// Status reports the current consensus state without finalizing.
func (c *Consensus) Status() (bool, string, Details) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reached, c.result, c.details
}

// Finalize recomputes the consensus one last time and returns the result.
// Idempotent: repeat calls over the same vote set return the same outcome.
func (c *Consensus) Finalize() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.updateStateLocked()

	proposals := make(map[string]ProposalStats)
	totalWeight := 0.0
	for _, v := range c.votes {
		totalWeight += v.FactorialWeight
	}
	for _, v := range c.votes {
		p := proposals[v.Proposal]
		p.Count++
		p.Weight += v.FactorialWeight
		p.Agents = append(p.Agents, v.AgentID)
		p.ConfidenceAvg = (p.ConfidenceAvg*float64(p.Count-1) + v.Confidence) / float64(p.Count)
		proposals[v.Proposal] = p
	}
	for key, p := range proposals {
		if totalWeight > 0 {
			p.WeightPercent = p.Weight / totalWeight * 100
		}
		sort.Strings(p.Agents)
		proposals[key] = p
	}

	result := Result{
		ConsensusID:      c.ConsensusID,
		ConsensusReached: c.reached,
		ConsensusResult:  c.result,
		VoteCount:        len(c.votes),
		Proposals:        proposals,
		Timestamp:        time.Now().UTC(),
	}
	if c.reached {
		result.SupportPercentage = c.details.ConsensusRatio
		result.WinningWeight = c.details.WinningWeight
		result.TotalWeight = c.details.TotalWeight
	}
	return result
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
