package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/internal/crypto"
	"github.com/GlobalSushrut/mcp-zero/internal/monitor"
	"github.com/GlobalSushrut/mcp-zero/internal/plugins"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

type fakeHost struct {
	registered []string
	denyIntent string
	result     map[string]interface{}
}

func (h *fakeHost) RegisterAgent(agentID string) error {
	h.registered = append(h.registered, agentID)
	return nil
}

func (h *fakeHost) Execute(_ context.Context, _ string, intent string, _ map[string]interface{}) (map[string]interface{}, error) {
	if intent == h.denyIntent {
		return nil, fmt.Errorf("%w: intent %q denied by ethical check", models.ErrPolicyViolation, intent)
	}
	if h.result != nil {
		return h.result, nil
	}
	return map[string]interface{}{"status": "executed"}, nil
}

func idleMonitor() *monitor.Monitor {
	return monitor.New(
		monitor.WithLimits(monitor.DefaultCPULimit, monitor.DefaultMemoryLimit),
		monitor.WithSampler(func() (float64, float64, error) { return 1, 50, nil }),
	)
}

func busyMonitor() *monitor.Monitor {
	m := monitor.New(
		monitor.WithLimits(monitor.DefaultCPULimit, monitor.DefaultMemoryLimit),
		monitor.WithSampler(func() (float64, float64, error) { return 99, 50, nil }),
	)
	m.Sample()
	return m
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *plugins.Registry, *trace.Tree) {
	t.Helper()
	reg := plugins.NewRegistry()
	tree := trace.NewTree(trace.Offline())
	return NewService(reg, idleMonitor(), tree, opts...), reg, tree
}

func TestSpawn_ClampsConstraints(t *testing.T) {
	s, _, _ := newTestService(t)

	a, err := s.Spawn("worker", models.HardwareConstraints{CPU: 0.9, MemoryMB: 4096}, "")
	require.NoError(t, err)
	assert.Equal(t, models.MaxAgentCPU, a.Constraints.CPU)
	assert.Equal(t, models.MaxAgentMemoryMB, a.Constraints.MemoryMB)
	assert.Equal(t, models.AgentActive, a.Status)

	// Zero constraints default to the ceilings.
	b, err := s.Spawn("", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.MaxAgentCPU, b.Constraints.CPU)
	assert.NotEmpty(t, b.Name)
}

func TestSpawn_RegistersWithHost(t *testing.T) {
	host := &fakeHost{}
	s, _, _ := newTestService(t, WithHost(host))

	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{a.AgentID}, host.registered)
}

func TestAttachPlugin(t *testing.T) {
	s, reg, _ := newTestService(t)
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	err = s.AttachPlugin(a.AgentID, "ghost", "")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = reg.Register(models.PluginDescriptor{PluginID: "p1", Name: "tools"})
	require.NoError(t, err)
	require.NoError(t, s.AttachPlugin(a.AgentID, "p1", ""))
	// Re-attachment is a no-op.
	require.NoError(t, s.AttachPlugin(a.AgentID, "p1", ""))

	got, err := s.Get(a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, got.Plugins)

	require.NoError(t, s.Terminate(a.AgentID, ""))
	err = s.AttachPlugin(a.AgentID, "p1", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestExecute_RecordsIntoTrace(t *testing.T) {
	s, _, tree := newTestService(t, WithHost(&fakeHost{result: map[string]interface{}{"answer": 42}}))
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	result, err := s.Execute(context.Background(), a.AgentID, "summarize", map[string]interface{}{"text": "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, 42, result["answer"])
	assert.NotEmpty(t, result["memory_node_id"])

	memories := tree.GetAgentMemories(a.AgentID)
	require.Len(t, memories, 1)
	assert.Equal(t, "summarize", memories[0].Content)
	assert.Equal(t, "action", memories[0].NodeType)
}

func TestExecute_ResourceGateDenial(t *testing.T) {
	reg := plugins.NewRegistry()
	s := NewService(reg, busyMonitor(), trace.NewTree(trace.Offline()))
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), a.AgentID, "work", nil, "")
	assert.ErrorIs(t, err, models.ErrResourceLimit)
	assert.NotErrorIs(t, err, models.ErrPolicyViolation)
}

func TestExecute_PolicyViolationDistinguishable(t *testing.T) {
	s, _, _ := newTestService(t, WithHost(&fakeHost{denyIntent: "harm"}))
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), a.AgentID, "harm", nil, "")
	assert.ErrorIs(t, err, models.ErrPolicyViolation)
	assert.NotErrorIs(t, err, models.ErrResourceLimit)
}

func TestExecute_PausedAgentRejected(t *testing.T) {
	s, _, _ := newTestService(t)
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	require.NoError(t, s.Pause(a.AgentID, ""))

	_, err = s.Execute(context.Background(), a.AgentID, "work", nil, "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSnapshot_ContentAddressed(t *testing.T) {
	s, reg, _ := newTestService(t)
	_, err := reg.Register(models.PluginDescriptor{PluginID: "p1", Name: "tools"})
	require.NoError(t, err)

	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	require.NoError(t, s.AttachPlugin(a.AgentID, "p1", ""))

	snap1, err := s.Snapshot(a.AgentID, "")
	require.NoError(t, err)
	snap2, err := s.Snapshot(a.AgentID, "")
	require.NoError(t, err)
	// Identical state yields an identical handle.
	assert.Equal(t, snap1.SnapshotID, snap2.SnapshotID)
	assert.Len(t, snap1.SnapshotID, 64)

	require.NoError(t, s.Terminate(a.AgentID, ""))
	_, err = s.Snapshot(a.AgentID, "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecover_RestoresIdentityAndPlugins(t *testing.T) {
	s, reg, _ := newTestService(t)
	_, err := reg.Register(models.PluginDescriptor{PluginID: "p1", Name: "tools"})
	require.NoError(t, err)

	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	require.NoError(t, s.AttachPlugin(a.AgentID, "p1", ""))
	snap, err := s.Snapshot(a.AgentID, "")
	require.NoError(t, err)
	require.NoError(t, s.Terminate(a.AgentID, ""))

	got, err := s.Recover(snap.SnapshotID, "")
	require.NoError(t, err)
	assert.Equal(t, a.AgentID, got.AgentID)
	assert.Equal(t, "worker", got.Name)
	assert.Equal(t, []string{"p1"}, got.Plugins)
	assert.Equal(t, models.AgentRecovered, got.Status)

	_, err = s.Recover("missing", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	s, _, _ := newTestService(t)
	a, err := s.Spawn("worker", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	require.NoError(t, s.Pause(a.AgentID, ""))
	// Pausing twice is invalid.
	assert.ErrorIs(t, s.Pause(a.AgentID, ""), models.ErrValidation)
	require.NoError(t, s.Resume(a.AgentID, ""))
	require.NoError(t, s.Terminate(a.AgentID, ""))

	// Terminated is irreversible.
	assert.ErrorIs(t, s.Resume(a.AgentID, ""), models.ErrValidation)
	assert.ErrorIs(t, s.Pause(a.AgentID, ""), models.ErrValidation)
	assert.ErrorIs(t, s.Terminate(a.AgentID, ""), models.ErrValidation)
}

func TestSignatureVerification(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	s, _, _ := newTestService(t, WithOwnerKey(kp.Public))

	constraints := models.HardwareConstraints{CPU: 0.1, MemoryMB: 100}
	payload := map[string]interface{}{"name": "worker", "constraints": constraints}

	_, err = s.Spawn("worker", constraints, "forged")
	assert.ErrorIs(t, err, models.ErrAuthentication)

	sig, err := kp.SignOperation(OpSpawn, payload)
	require.NoError(t, err)
	a, err := s.Spawn("worker", constraints, sig)
	require.NoError(t, err)

	// A signature for one operation never authorises another.
	wrongOp, err := kp.SignOperation(OpPause, map[string]interface{}{"agent_id": a.AgentID})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Terminate(a.AgentID, wrongOp), models.ErrAuthentication)

	pauseSig, err := kp.SignOperation(OpPause, map[string]interface{}{"agent_id": a.AgentID})
	require.NoError(t, err)
	require.NoError(t, s.Pause(a.AgentID, pauseSig))
}

func TestList_OrderedByCreation(t *testing.T) {
	s, _, _ := newTestService(t)
	a, err := s.Spawn("first", models.HardwareConstraints{}, "")
	require.NoError(t, err)
	b, err := s.Spawn("second", models.HardwareConstraints{}, "")
	require.NoError(t, err)

	got := s.List()
	require.Len(t, got, 2)
	assert.Equal(t, a.AgentID, got[0].AgentID)
	assert.Equal(t, b.AgentID, got[1].AgentID)
}
