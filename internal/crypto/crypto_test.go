package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

func TestHashMemoryNode_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	node := &models.MemoryNode{
		NodeID:    "n1",
		Content:   "observed temperature 21C",
		NodeType:  models.NodeObservation,
		Metadata:  map[string]interface{}{"sensor": "t-01", "agent": "a1"},
		Timestamp: ts,
	}

	h1, err := HashMemoryNode(node)
	require.NoError(t, err)
	h2, err := HashMemoryNode(node)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "same node must hash identically")
	assert.Len(t, h1, 64, "hex SHA-256")

	node.Hash = h1
	assert.True(t, VerifyMemoryNode(node))

	// Any field change must break verification.
	node.Content = "observed temperature 22C"
	assert.False(t, VerifyMemoryNode(node))
}

func TestHashMemoryNode_ParentContributes(t *testing.T) {
	ts := time.Now().UTC()
	root := &models.MemoryNode{NodeID: "r", Content: "c", NodeType: models.NodeReasoning, Timestamp: ts}
	child := &models.MemoryNode{NodeID: "r", Content: "c", NodeType: models.NodeReasoning, ParentID: "p", Timestamp: ts}

	h1, err := HashMemoryNode(root)
	require.NoError(t, err)
	h2, err := HashMemoryNode(child)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestSignOperation_TagBinding(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]string{"agent_id": "a1", "intent": "summarize"}
	sig, err := kp.SignOperation("execute", payload)
	require.NoError(t, err)

	assert.True(t, VerifyOperation(kp.Public, "execute", payload, sig))
	// Same payload under a different operation tag must not verify.
	assert.False(t, VerifyOperation(kp.Public, "terminate", payload, sig))
	// Tampered payload must not verify.
	assert.False(t, VerifyOperation(kp.Public, "execute", map[string]string{"agent_id": "a2", "intent": "summarize"}, sig))
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	encoded := EncodePublicKey(kp.Public)
	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, decoded)

	_, err = DecodePublicKey("not base64!!")
	assert.Error(t, err)
}
