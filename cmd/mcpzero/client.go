package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GlobalSushrut/mcp-zero/internal/config"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

var (
	serverAddr string
	apiKey     string
)

// client is the thin HTTP client the CLI commands share.
type client struct {
	base string
	key  string
	http *http.Client
}

func firstKey(env string) string {
	for _, k := range strings.Split(os.Getenv(env), ",") {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return ""
}

func newClient() *client {
	base := serverAddr
	if base == "" {
		cfg := config.Load()
		host := cfg.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.HTTPPort)
	}

	key := apiKey
	if key == "" {
		if key = firstKey("MCP_ADMIN_KEYS"); key == "" {
			key = firstKey("MCP_API_KEYS")
		}
	}

	return &client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends a JSON request and decodes the JSON response. Non-2xx answers
// become errors carrying the server's error kind.
func (c *client) call(method, path string, body interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrConnection, err)
	}

	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}

	if resp.StatusCode >= 300 {
		kind := "error"
		details := ""
		if out != nil {
			if k, ok := out["error"].(string); ok {
				kind = k
			}
			details, _ = out["details"].(string)
		}
		return out, fmt.Errorf("%s %s: %s (%s)", method, path, kind, details)
	}
	return out, nil
}

// printJSON writes a value as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
