package trace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// searchLimit caps substring search results.
const searchLimit = 100

// Persister stores nodes durably so the trace survives restart.
type Persister interface {
	SaveMemoryNode(ctx context.Context, agentID string, node *models.MemoryNode) error
	LoadMemoryNodes(ctx context.Context) (map[string][]*models.MemoryNode, error)
}

// Registrar receives a copy of every new node. Any failure flips the tree
// into offline mode for the rest of the session.
type Registrar interface {
	RegisterNode(ctx context.Context, node *models.MemoryNode) error
}

// Tree is the append-only, hash-chained memory trace with a per-agent index.
// Nodes are immutable once added.
type Tree struct {
	mu         sync.RWMutex
	nodes      map[string]*models.MemoryNode
	agentNodes map[string][]string // agent id -> owned node ids, append order
	offline    bool
	registrar  Registrar
	persister  Persister
	log        *logrus.Entry
}

// Option configures a Tree at construction.
type Option func(*Tree)

// WithPersister attaches durable storage for nodes.
func WithPersister(p Persister) Option {
	return func(t *Tree) { t.persister = p }
}

// WithRegistrar attaches a remote registrar. The tree starts online and falls
// back to offline mode permanently on the first registrar failure.
func WithRegistrar(r Registrar) Option {
	return func(t *Tree) { t.registrar = r }
}

// Offline forces the tree to never contact a registrar.
func Offline() Option {
	return func(t *Tree) { t.offline = true }
}

// NewTree creates an empty trace store.
func NewTree(opts ...Option) *Tree {
	t := &Tree{
		nodes:      make(map[string]*models.MemoryNode),
		agentNodes: make(map[string][]string),
		log:        logrus.WithField("component", "trace"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Restore reloads previously persisted nodes into the in-memory index.
func (t *Tree) Restore(ctx context.Context) error {
	if t.persister == nil {
		return nil
	}
	byAgent, err := t.persister.LoadMemoryNodes(ctx)
	if err != nil {
		return fmt.Errorf("%w: restore trace: %v", models.ErrStorage, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for agentID, nodes := range byAgent {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Timestamp.Before(nodes[j].Timestamp) })
		for _, n := range nodes {
			t.nodes[n.NodeID] = n
			t.agentNodes[agentID] = append(t.agentNodes[agentID], n.NodeID)
			total++
		}
	}
	t.log.Infof("Restored %d memory nodes for %d agents", total, len(byAgent))
	return nil
}

// OfflineMode reports whether the tree has stopped contacting the registrar.
func (t *Tree) OfflineMode() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offline
}

// AddMemory appends a new node to an agent's trace and returns its id.
// The parent, when given, must already exist.
func (t *Tree) AddMemory(ctx context.Context, agentID, content, nodeType string, metadata map[string]interface{}, parentID string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("%w: agent id required", models.ErrValidation)
	}

	node := &models.MemoryNode{
		NodeID:    uuid.New().String(),
		Content:   content,
		NodeType:  nodeType,
		Metadata:  metadata,
		ParentID:  parentID,
		Timestamp: time.Now().UTC(),
	}
	hash, err := crypto.HashMemoryNode(node)
	if err != nil {
		return "", err
	}
	node.Hash = hash

	t.mu.Lock()
	if parentID != "" {
		if _, ok := t.nodes[parentID]; !ok {
			t.mu.Unlock()
			return "", fmt.Errorf("%w: parent node %s", models.ErrNotFound, parentID)
		}
	}
	t.nodes[node.NodeID] = node
	t.agentNodes[agentID] = append(t.agentNodes[agentID], node.NodeID)
	registrar := t.registrar
	online := !t.offline && registrar != nil
	t.mu.Unlock()

	if t.persister != nil {
		if err := t.persister.SaveMemoryNode(ctx, agentID, node); err != nil {
			// The node stays usable in memory; persistence failures are surfaced.
			return node.NodeID, fmt.Errorf("%w: persist node: %v", models.ErrStorage, err)
		}
	}

	if online {
		if err := registrar.RegisterNode(ctx, node); err != nil {
			t.log.Warnf("Registrar unreachable, switching trace store to offline mode: %v", err)
			t.mu.Lock()
			t.offline = true
			t.mu.Unlock()
		}
	}

	return node.NodeID, nil
}

// GetMemory returns a node by id, or nil when absent.
func (t *Tree) GetMemory(nodeID string) *models.MemoryNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[nodeID]
}

// GetAgentMemories returns all nodes owned by an agent ordered by timestamp.
func (t *Tree) GetAgentMemories(agentID string) []*models.MemoryNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.agentNodes[agentID]
	out := make([]*models.MemoryNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.nodes[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// GetMemoryPath returns the chain from the root ancestor down to the node.
func (t *Tree) GetMemoryPath(nodeID string) ([]*models.MemoryNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", models.ErrNotFound, nodeID)
	}

	var path []*models.MemoryNode
	for node != nil {
		path = append(path, node)
		if node.ParentID == "" {
			break
		}
		parent, ok := t.nodes[node.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: broken chain at %s", models.ErrIntegrity, node.ParentID)
		}
		node = parent
	}

	// Reverse to root-first order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// GetChildren returns the direct children of a node ordered by timestamp.
func (t *Tree) GetChildren(parentID string) []*models.MemoryNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*models.MemoryNode
	for _, n := range t.nodes {
		if n.ParentID == parentID && parentID != "" {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SearchMemories returns up to 100 nodes whose content contains the query,
// ordered by timestamp.
func (t *Tree) SearchMemories(query string) []*models.MemoryNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*models.MemoryNode
	for _, n := range t.nodes {
		if strings.Contains(n.Content, query) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out
}

// VerifyMemoryTrace checks a root-to-leaf path: every node's hash must match
// its contents and consecutive entries must be parent-linked. A failing path
// is rejected outright.
func VerifyMemoryTrace(path []*models.MemoryNode) bool {
	for i, n := range path {
		if !crypto.VerifyMemoryNode(n) {
			return false
		}
		if i > 0 && n.ParentID != path[i-1].NodeID {
			return false
		}
	}
	return len(path) > 0
}
