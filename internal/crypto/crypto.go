package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// CanonicalTimeLayout fixes the textual form of timestamps inside hashed
// payloads. All hashed timestamps are UTC.
const CanonicalTimeLayout = time.RFC3339Nano

// CanonicalJSON serialises a value deterministically. encoding/json emits map
// keys in sorted order, which is the only property hashing relies on.
func CanonicalJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode: %w", err)
	}
	return string(raw), nil
}

// HashHex returns the hex SHA-256 digest of the input.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashMemoryNode computes the node hash over the canonical concatenation
// node_id:content:node_type:canonical(metadata):parent_id:timestamp.
// An absent parent contributes the empty string.
func HashMemoryNode(n *models.MemoryNode) (string, error) {
	meta, err := CanonicalJSON(n.Metadata)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInternalCrypto, err)
	}
	payload := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		n.NodeID,
		n.Content,
		n.NodeType,
		meta,
		n.ParentID,
		n.Timestamp.UTC().Format(CanonicalTimeLayout),
	)
	return HashHex([]byte(payload)), nil
}

// VerifyMemoryNode recomputes a node's hash and compares it to the stored one.
func VerifyMemoryNode(n *models.MemoryNode) bool {
	expected, err := HashMemoryNode(n)
	if err != nil {
		return false
	}
	return expected == n.Hash
}

// Keypair holds an ed25519 signing identity. On-wire signatures are opaque
// base64 strings so the primitive can change without a format break.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh ed25519 identity.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: keygen: %v", models.ErrInternalCrypto, err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// signingPayload binds the operation tag into the signed bytes so that a
// signature for one operation can never authorise another.
func signingPayload(operation string, payload interface{}) ([]byte, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return nil, err
	}
	return []byte(operation + ":" + canonical), nil
}

// SignOperation signs an operation-tagged canonical payload, returning the
// signature as base64.
func (k *Keypair) SignOperation(operation string, payload interface{}) (string, error) {
	msg, err := signingPayload(operation, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInternalCrypto, err)
	}
	sig := ed25519.Sign(k.Private, msg)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyOperation checks a base64 signature over an operation-tagged payload.
func VerifyOperation(pub ed25519.PublicKey, operation string, payload interface{}, signature string) bool {
	msg, err := signingPayload(operation, payload)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// EncodePublicKey renders a public key as base64 for storage or transport.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses a base64 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: bad public key encoding", models.ErrValidation)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key length %d", models.ErrValidation, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
