package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// HTTPRegistrar posts new memory nodes to a remote registrar endpoint.
// Failures are reported to the tree, which then goes offline for the session.
type HTTPRegistrar struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistrar creates a registrar client against the given base URL.
func NewHTTPRegistrar(baseURL string) *HTTPRegistrar {
	return &HTTPRegistrar{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// RegisterNode posts the node envelope to <base>/memory/register.
func (r *HTTPRegistrar) RegisterNode(ctx context.Context, node *models.MemoryNode) error {
	body, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/memory/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: registrar returned %d", models.ErrConnection, resp.StatusCode)
	}
	return nil
}
