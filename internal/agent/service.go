// Package agent is the lifecycle service for governed agents: spawn under
// hard resource ceilings, plugin attachment, gated execution, snapshots and
// recovery. Mutating operations are authenticated by an ed25519 signature
// over an operation-tagged canonical payload.
package agent

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
	"github.com/GlobalSushrut/mcp-zero/internal/learning"
	"github.com/GlobalSushrut/mcp-zero/internal/monitor"
	"github.com/GlobalSushrut/mcp-zero/internal/plugins"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Operation tags bound into signed payloads.
const (
	OpSpawn        = "spawn"
	OpAttachPlugin = "attach_plugin"
	OpExecute      = "execute"
	OpSnapshot     = "snapshot"
	OpRecover      = "recover"
	OpPause        = "pause"
	OpResume       = "resume"
	OpTerminate    = "terminate"
)

// Host executes intents inside the plugin sandbox. Implementations return an
// error wrapping models.ErrPolicyViolation when the ethical check denies the
// intent.
type Host interface {
	RegisterAgent(agentID string) error
	Execute(ctx context.Context, agentID, intent string, inputs map[string]interface{}) (map[string]interface{}, error)
}

// Service manages agents. Operations on a single agent are serialised by the
// service lock.
type Service struct {
	mu        sync.Mutex
	agents    map[string]*models.Agent
	snapshots map[string]*models.Snapshot

	registry *plugins.Registry
	monitor  *monitor.Monitor
	tree     *trace.Tree
	grid     *learning.IntentGrid
	host     Host
	ownerKey ed25519.PublicKey

	log *logrus.Entry
}

// ServiceOption adjusts a Service at construction.
type ServiceOption func(*Service)

// WithHost sets the plugin host that executes intents.
func WithHost(h Host) ServiceOption { return func(s *Service) { s.host = h } }

// WithIntentGrid wires execution outcomes into the intent-weight grid.
func WithIntentGrid(g *learning.IntentGrid) ServiceOption {
	return func(s *Service) { s.grid = g }
}

// WithOwnerKey enables signature verification: every mutating operation must
// carry a signature by the matching private key.
func WithOwnerKey(pub ed25519.PublicKey) ServiceOption {
	return func(s *Service) { s.ownerKey = pub }
}

// NewService creates a lifecycle service. Registry, monitor and trace tree
// are required collaborators.
func NewService(registry *plugins.Registry, mon *monitor.Monitor, tree *trace.Tree, opts ...ServiceOption) *Service {
	s := &Service{
		agents:    make(map[string]*models.Agent),
		snapshots: make(map[string]*models.Snapshot),
		registry:  registry,
		monitor:   mon,
		tree:      tree,
		log:       logrus.WithField("component", "agent"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// verify checks an operation signature when an owner key is configured.
func (s *Service) verify(operation string, payload interface{}, signature string) error {
	if s.ownerKey == nil {
		return nil
	}
	if !crypto.VerifyOperation(s.ownerKey, operation, payload, signature) {
		return fmt.Errorf("%w: bad %s signature", models.ErrAuthentication, operation)
	}
	return nil
}

// Spawn allocates an agent identity, clamps its constraints to the hard
// ceilings and registers it with the plugin host.
func (s *Service) Spawn(name string, constraints models.HardwareConstraints, signature string) (*models.Agent, error) {
	if err := s.verify(OpSpawn, map[string]interface{}{
		"name":        name,
		"constraints": constraints,
	}, signature); err != nil {
		return nil, err
	}

	if constraints.CPU <= 0 {
		constraints.CPU = models.MaxAgentCPU
	}
	if constraints.MemoryMB <= 0 {
		constraints.MemoryMB = models.MaxAgentMemoryMB
	}
	if constraints.CPU > models.MaxAgentCPU {
		s.log.Warnf("Requested cpu %.2f exceeds cap, clamping to %.2f", constraints.CPU, models.MaxAgentCPU)
		constraints.CPU = models.MaxAgentCPU
	}
	if constraints.MemoryMB > models.MaxAgentMemoryMB {
		s.log.Warnf("Requested memory %.0fMB exceeds cap, clamping to %.0f", constraints.MemoryMB, models.MaxAgentMemoryMB)
		constraints.MemoryMB = models.MaxAgentMemoryMB
	}

	now := time.Now().UTC()
	a := &models.Agent{
		AgentID:     uuid.New().String(),
		Name:        name,
		Status:      models.AgentActive,
		Constraints: constraints,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.Name == "" {
		a.Name = "agent-" + a.AgentID[:8]
	}

	if s.host != nil {
		if err := s.host.RegisterAgent(a.AgentID); err != nil {
			return nil, fmt.Errorf("registering agent with plugin host: %w", err)
		}
	}

	s.mu.Lock()
	s.agents[a.AgentID] = a
	s.mu.Unlock()

	s.log.Infof("Spawned agent %s (%s) cpu=%.2f mem=%.0fMB", a.AgentID, a.Name, constraints.CPU, constraints.MemoryMB)
	out := *a
	return &out, nil
}

// Get returns a copy of one agent.
func (s *Service) Get(agentID string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(agentID)
}

func (s *Service) getLocked(agentID string) (*models.Agent, error) {
	a, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	out := *a
	out.Plugins = append([]string(nil), a.Plugins...)
	return &out, nil
}

// List returns all agents ordered by creation time.
func (s *Service) List() []models.Agent {
	s.mu.Lock()
	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		c := *a
		c.Plugins = append([]string(nil), a.Plugins...)
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AttachPlugin attaches a registered plugin to a live agent.
func (s *Service) AttachPlugin(agentID, pluginID, signature string) error {
	if err := s.verify(OpAttachPlugin, map[string]interface{}{
		"agent_id":  agentID,
		"plugin_id": pluginID,
	}, signature); err != nil {
		return err
	}
	if !s.registry.IsRegistered(pluginID) {
		return fmt.Errorf("%w: plugin %s is not registered", models.ErrValidation, pluginID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	if a.Status == models.AgentTerminated {
		return fmt.Errorf("%w: agent %s is terminated", models.ErrValidation, agentID)
	}
	for _, p := range a.Plugins {
		if p == pluginID {
			return nil
		}
	}
	a.Plugins = append(a.Plugins, pluginID)
	a.UpdatedAt = time.Now().UTC()
	s.log.Infof("Attached plugin %s to agent %s", pluginID, agentID)
	return nil
}

// Execute runs an intent for an agent. The resource gate is consulted before
// the plugin host; a gate denial surfaces as a resource-limit error, a host
// ethical denial as a policy violation. Successful calls are recorded into
// the memory trace and the intent grid.
func (s *Service) Execute(ctx context.Context, agentID, intent string, inputs map[string]interface{}, signature string) (map[string]interface{}, error) {
	if err := s.verify(OpExecute, map[string]interface{}{
		"agent_id": agentID,
		"intent":   intent,
		"inputs":   inputs,
	}, signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	a, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	status := a.Status
	s.mu.Unlock()

	if status != models.AgentActive && status != models.AgentRecovered {
		return nil, fmt.Errorf("%w: agent %s is %s", models.ErrValidation, agentID, status)
	}
	if !s.monitor.CheckAvailableResources() {
		return nil, fmt.Errorf("%w: execution denied for agent %s", models.ErrResourceLimit, agentID)
	}
	op := s.monitor.TrackOperation("execute:" + intent)
	defer op.Done()

	var result map[string]interface{}
	if s.host != nil {
		var err error
		result, err = s.host.Execute(ctx, agentID, intent, inputs)
		if err != nil {
			return nil, fmt.Errorf("executing intent %q: %w", intent, err)
		}
	} else {
		result = map[string]interface{}{"status": "executed"}
	}

	nodeID, err := s.tree.AddMemory(ctx, agentID, intent, "action", map[string]interface{}{
		"intent": intent,
		"inputs": inputs,
	}, "")
	if err != nil {
		s.log.Errorf("Error recording execution for agent %s: %v", agentID, err)
	} else {
		result["memory_node_id"] = nodeID
	}

	if s.grid != nil {
		s.grid.RegisterIntent(map[string]interface{}{
			"agent_id": agentID,
			"intent":   intent,
		}, 1.0, 1.0)
	}
	return result, nil
}

// Snapshot produces a content-addressed capture of the agent's identity and
// plugin list. Terminated agents cannot be snapshotted.
func (s *Service) Snapshot(agentID, signature string) (*models.Snapshot, error) {
	if err := s.verify(OpSnapshot, map[string]interface{}{
		"agent_id": agentID,
	}, signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	if a.Status == models.AgentTerminated {
		return nil, fmt.Errorf("%w: agent %s is terminated", models.ErrValidation, agentID)
	}

	attached := append([]string(nil), a.Plugins...)
	sort.Strings(attached)
	payload, err := crypto.CanonicalJSON(map[string]interface{}{
		"agent_id": a.AgentID,
		"name":     a.Name,
		"plugins":  attached,
		"metadata": a.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot payload: %v", models.ErrInternalCrypto, err)
	}

	snap := &models.Snapshot{
		SnapshotID: crypto.HashHex([]byte(payload)),
		AgentID:    a.AgentID,
		Name:       a.Name,
		Plugins:    attached,
		Metadata:   a.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	s.snapshots[snap.SnapshotID] = snap

	s.log.Infof("Snapshot %s taken for agent %s", shortHash(snap.SnapshotID), agentID)
	out := *snap
	return &out, nil
}

// Recover reconstructs an agent from a snapshot. The agent comes back with
// its identity and plugin list and status recovered.
func (s *Service) Recover(snapshotID, signature string) (*models.Agent, error) {
	if err := s.verify(OpRecover, map[string]interface{}{
		"snapshot_id": snapshotID,
	}, signature); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", models.ErrNotFound, snapshotID)
	}

	now := time.Now().UTC()
	a := &models.Agent{
		AgentID: snap.AgentID,
		Name:    snap.Name,
		Status:  models.AgentRecovered,
		Constraints: models.HardwareConstraints{
			CPU:      models.MaxAgentCPU,
			MemoryMB: models.MaxAgentMemoryMB,
		},
		Plugins:   append([]string(nil), snap.Plugins...),
		Metadata:  snap.Metadata,
		UpdatedAt: now,
	}
	if prev, ok := s.agents[snap.AgentID]; ok {
		a.CreatedAt = prev.CreatedAt
		a.Constraints = prev.Constraints
	} else {
		a.CreatedAt = now
	}
	s.agents[snap.AgentID] = a

	s.log.Infof("Recovered agent %s from snapshot %s", a.AgentID, shortHash(snapshotID))
	out := *a
	out.Plugins = append([]string(nil), a.Plugins...)
	return &out, nil
}

// Pause suspends an active agent.
func (s *Service) Pause(agentID, signature string) error {
	return s.transition(OpPause, agentID, signature, map[string]string{
		models.AgentActive: models.AgentPaused,
	})
}

// Resume reactivates a paused agent.
func (s *Service) Resume(agentID, signature string) error {
	return s.transition(OpResume, agentID, signature, map[string]string{
		models.AgentPaused: models.AgentActive,
	})
}

// Terminate irreversibly stops an agent.
func (s *Service) Terminate(agentID, signature string) error {
	return s.transition(OpTerminate, agentID, signature, map[string]string{
		models.AgentActive:    models.AgentTerminated,
		models.AgentPaused:    models.AgentTerminated,
		models.AgentRecovered: models.AgentTerminated,
	})
}

func (s *Service) transition(operation, agentID, signature string, allowed map[string]string) error {
	if err := s.verify(operation, map[string]interface{}{
		"agent_id": agentID,
	}, signature); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: agent %s", models.ErrNotFound, agentID)
	}
	next, ok := allowed[a.Status]
	if !ok {
		return fmt.Errorf("%w: cannot %s agent in status %s", models.ErrValidation, operation, a.Status)
	}
	a.Status = next
	a.UpdatedAt = time.Now().UTC()
	s.log.Infof("Agent %s transitioned to %s", agentID, next)
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
