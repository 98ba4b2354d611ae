package mesh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// fakeConn captures envelopes written to it; reads fail immediately.
type fakeConn struct {
	mu      sync.Mutex
	written []models.Envelope
	closed  bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, assert.AnError
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) envelopes() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Envelope(nil), f.written...)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope(models.MsgDiscovery, "node-1", map[string]interface{}{
		"address": "ws://localhost:8765",
	})
	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, models.MsgDiscovery, got.Type)
	assert.Equal(t, "node-1", got.SenderID)
	assert.Equal(t, "ws://localhost:8765", got.Data["address"])
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = DecodeEnvelope([]byte(`{"sender_id":"n1"}`))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDirectory_NamespacesDisjoint(t *testing.T) {
	d := NewDirectory("n1")

	assert.True(t, d.AddLocal("res-1", "agent", nil))
	assert.True(t, d.AddRemote("res-1", "agent", nil, "peer-a"))

	// The id collides but each namespace keeps its own entry; local wins
	// in query results.
	got := d.Query("agent", nil, true, true)
	require.Len(t, got, 1)
	assert.Equal(t, "local", got["res-1"].Location)

	assert.True(t, d.RemoveLocal("res-1"))
	got = d.Query("agent", nil, true, true)
	require.Len(t, got, 1)
	assert.Equal(t, "remote", got["res-1"].Location)
	assert.Equal(t, "peer-a", got["res-1"].PeerID)
}

func TestDirectory_PeerRemovalDropsResources(t *testing.T) {
	d := NewDirectory("n1")
	d.AddRemote("r1", "agent", nil, "peer-a")
	d.AddRemote("r2", "model", nil, "peer-a")
	d.AddRemote("r3", "agent", nil, "peer-b")

	assert.Equal(t, 2, d.RemovePeerResources("peer-a"))
	got := d.Query("", nil, false, true)
	require.Len(t, got, 1)
	assert.Contains(t, got, "r3")
}

func TestDirectory_MetadataFilter(t *testing.T) {
	d := NewDirectory("n1")
	d.AddLocal("r1", "agent", map[string]interface{}{"region": "eu"})
	d.AddLocal("r2", "agent", map[string]interface{}{"region": "us"})

	got := d.Query("agent", map[string]interface{}{"region": "eu"}, true, true)
	require.Len(t, got, 1)
	assert.Contains(t, got, "r1")

	assert.Empty(t, d.Query("plugin", nil, true, true))
}

func TestCapAgentConstraints(t *testing.T) {
	n := NewNode("localhost", 8765)

	capped := CapAgentConstraints(n.log, map[string]interface{}{
		"cpu":    0.9,
		"memory": 2048.0,
	})
	assert.Equal(t, AgentCPUCap, capped["cpu"])
	assert.Equal(t, float64(AgentMemoryCap), capped["memory"])
	assert.Equal(t, true, capped["trace_enabled"])

	// Within limits nothing is clamped and an explicit trace flag stays.
	capped = CapAgentConstraints(n.log, map[string]interface{}{
		"cpu":           0.1,
		"memory":        100.0,
		"trace_enabled": false,
	})
	assert.Equal(t, 0.1, capped["cpu"])
	assert.Equal(t, 100.0, capped["memory"])
	assert.Equal(t, false, capped["trace_enabled"])
}

func TestHandleEnvelope_IgnoresOwnMessages(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n1"))

	env := NewEnvelope(models.MsgResourceAnnouncement, "n1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "agent",
	})
	n.HandleEnvelope(env, nil)
	assert.Empty(t, n.Directory.Query("", nil, true, true))
}

func TestHandleEnvelope_DiscoveryUpsertsPeerAndReplies(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n2"))
	n.Directory.AddLocal("local-res", "model", nil)
	conn := &fakeConn{}

	env := NewEnvelope(models.MsgDiscovery, "n1", map[string]interface{}{
		"node_type": "full",
		"address":   "ws://localhost:9001",
		"resources": []string{"agent-a"},
	})
	n.HandleEnvelope(env, conn)

	peers := n.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "n1", peers[0].PeerID)
	assert.Equal(t, "ws://localhost:9001", peers[0].Address)
	assert.Equal(t, []string{"agent-a"}, peers[0].Resources)
	assert.False(t, peers[0].LastSeen.IsZero())

	sent := conn.envelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, models.MsgDiscoveryResponse, sent[0].Type)
	assert.Equal(t, "n2", sent[0].SenderID)
	assert.Equal(t, "ws://localhost:8765", sent[0].Data["address"])
}

func TestHandleEnvelope_DiscoveryResponseDoesNotReply(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n2"))
	conn := &fakeConn{}

	env := NewEnvelope(models.MsgDiscoveryResponse, "n3", map[string]interface{}{
		"address": "ws://localhost:9002",
	})
	n.HandleEnvelope(env, conn)

	require.Len(t, n.Peers(), 1)
	assert.Empty(t, conn.envelopes())
}

func TestHandleEnvelope_AnnouncementAddsRemote(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n3"))

	env := NewEnvelope(models.MsgResourceAnnouncement, "n1", map[string]interface{}{
		"resource_id":   "agent-alpha",
		"resource_type": "agent",
		"metadata":      map[string]interface{}{"region": "eu"},
	})
	n.HandleEnvelope(env, nil)

	got := n.Directory.Query("agent", nil, true, true)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got["agent-alpha"].PeerID)
	assert.Equal(t, "remote", got["agent-alpha"].Location)
}

func TestHandleEnvelope_ResourceQueryAnsweredFromLocal(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n1"))
	n.Directory.AddLocal("agent-alpha", "agent", map[string]interface{}{"region": "eu"})
	n.Directory.AddLocal("model-beta", "model", nil)
	// Remote entries are not re-advertised on behalf of other peers.
	n.Directory.AddRemote("agent-remote", "agent", nil, "n9")
	conn := &fakeConn{}

	env := NewEnvelope(models.MsgResourceQuery, "n3", map[string]interface{}{
		"query_id": "q-1",
		"query":    map[string]interface{}{"type": "agent"},
	})
	n.HandleEnvelope(env, conn)

	sent := conn.envelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, models.MsgResourceQueryResp, sent[0].Type)
	assert.Equal(t, "q-1", sent[0].Data["query_id"])

	var results map[string]models.MeshResource
	require.NoError(t, decodeData(sent[0].Data["results"], &results))
	require.Len(t, results, 1)
	assert.Contains(t, results, "agent-alpha")
}

func TestMeshDiscoveryScenario(t *testing.T) {
	n1 := NewNode("localhost", 9001, WithNodeID("n1"))
	n2 := NewNode("localhost", 9002, WithNodeID("n2"))
	n3 := NewNode("localhost", 9003, WithNodeID("n3"))

	// Deliver each node's discovery to the other two.
	nodes := []*Node{n1, n2, n3}
	for _, from := range nodes {
		env := NewEnvelope(models.MsgDiscovery, from.ID, map[string]interface{}{
			"node_type": "full",
			"address":   from.Address(),
		})
		for _, to := range nodes {
			if to != from {
				to.HandleEnvelope(env, &fakeConn{})
			}
		}
	}
	for _, node := range nodes {
		assert.Len(t, node.Peers(), 2)
	}

	// n1 registers agent-alpha; the announcement reaches n3.
	n1.Directory.AddLocal("agent-alpha", "agent", nil)
	announce := NewEnvelope(models.MsgResourceAnnouncement, "n1", map[string]interface{}{
		"resource_id":   "agent-alpha",
		"resource_type": "agent",
	})
	n3.HandleEnvelope(announce, nil)

	got := n3.QueryResources(t.Context(), "agent", nil, true, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got["agent-alpha"].PeerID)
}

func TestRegisterAgentResource_Clamps(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n1"))

	capped := n.RegisterAgentResource("agent-1", map[string]interface{}{
		"cpu":    1.0,
		"memory": 4096.0,
	})
	assert.Equal(t, AgentCPUCap, capped["cpu"])
	assert.Equal(t, float64(AgentMemoryCap), capped["memory"])

	got := n.Directory.Query("agent", nil, true, false)
	require.Len(t, got, 1)
	assert.Equal(t, true, got["agent-1"].Metadata["trace_enabled"])
}

func TestRemovePeerDropsItsResources(t *testing.T) {
	n := NewNode("localhost", 8765, WithNodeID("n1"))
	conn := &fakeConn{}

	n.HandleEnvelope(NewEnvelope(models.MsgDiscovery, "n2", map[string]interface{}{
		"address": "ws://localhost:9002",
	}), conn)
	n.HandleEnvelope(NewEnvelope(models.MsgResourceAnnouncement, "n2", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "agent",
	}), nil)
	require.Len(t, n.Directory.Query("", nil, true, true), 1)

	n.RemovePeer("n2")
	assert.Empty(t, n.Peers())
	assert.Empty(t, n.Directory.Query("", nil, true, true))
	assert.True(t, conn.closed)
}
