// Package mesh implements the peer network: nodes speak a JSON envelope over
// persistent websocket links, gossip resource announcements, answer resource
// queries and forward agreement validation and usage messages.
package mesh

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// NewEnvelope builds an envelope stamped with the current UTC time.
func NewEnvelope(msgType, senderID string, data map[string]interface{}) models.Envelope {
	if data == nil {
		data = map[string]interface{}{}
	}
	return models.Envelope{
		Type:      msgType,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EncodeEnvelope serialises an envelope to its wire form.
func EncodeEnvelope(env models.Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s envelope: %v", models.ErrValidation, env.Type, err)
	}
	return raw, nil
}

// DecodeEnvelope parses a wire frame. Frames without a type or sender are
// rejected.
func DecodeEnvelope(raw []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: decode envelope: %v", models.ErrValidation, err)
	}
	if env.Type == "" || env.SenderID == "" {
		return env, fmt.Errorf("%w: envelope missing type or sender", models.ErrValidation)
	}
	if env.Data == nil {
		env.Data = map[string]interface{}{}
	}
	return env, nil
}

// decodeData re-marshals a loosely typed envelope field into a concrete
// structure.
func decodeData(v interface{}, out interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func dataString(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func dataFloat(data map[string]interface{}, key string) float64 {
	f, _ := data[key].(float64)
	return f
}
