package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnv drives the monitor with scripted readings and a manual clock.
type fakeEnv struct {
	cpu    float64
	mem    float64
	now    time.Time
	slept  []time.Duration
	sample Sampler
}

func newFakeEnv() *fakeEnv {
	f := &fakeEnv{now: time.Unix(1000, 0)}
	f.sample = func() (float64, float64, error) { return f.cpu, f.mem, nil }
	return f
}

func (f *fakeEnv) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fakeEnv) monitor(opts ...Option) *Monitor {
	base := []Option{
		WithLimits(DefaultCPULimit, DefaultMemoryLimit),
		WithSampler(f.sample),
		withClock(func() time.Time { return f.now }, func(d time.Duration) { f.slept = append(f.slept, d) }),
	}
	return New(append(base, opts...)...)
}

func TestGate_OpenWithinLimits(t *testing.T) {
	f := newFakeEnv()
	f.cpu, f.mem = 10, 200
	m := f.monitor()
	m.Sample()

	assert.True(t, m.CheckAvailableResources())
}

func TestGate_ClosedAtCPULimit(t *testing.T) {
	f := newFakeEnv()
	m := f.monitor()

	f.cpu, f.mem = DefaultCPULimit, 100
	m.Sample()
	assert.False(t, m.CheckAvailableResources())

	f.cpu = 5
	m.Sample()
	assert.True(t, m.CheckAvailableResources())
}

func TestGate_ClosedAtMemoryLimit(t *testing.T) {
	f := newFakeEnv()
	m := f.monitor()

	f.cpu, f.mem = 5, DefaultMemoryLimit
	m.Sample()
	assert.False(t, m.CheckAvailableResources())
}

func TestBudget_DeductAndRefill(t *testing.T) {
	f := newFakeEnv()
	f.cpu, f.mem = 5, 100
	m := f.monitor()

	// Each tracked operation costs 5 on entry; 20 of them drain the
	// budget with the clock frozen.
	for i := 0; i < 20; i++ {
		op := m.TrackOperation("op")
		op.Done()
	}
	assert.Equal(t, 0.0, m.Budget())
	assert.False(t, m.CheckAvailableResources())

	// Refill runs at 5 per second.
	f.advance(2 * time.Second)
	m.Sample()
	assert.InDelta(t, 10.0, m.Budget(), 1e-9)
	assert.True(t, m.CheckAvailableResources())

	// Refill never exceeds the full budget.
	f.advance(time.Hour)
	m.Sample()
	assert.Equal(t, 100.0, m.Budget())
}

func TestOperation_MeasuredUsageSettled(t *testing.T) {
	f := newFakeEnv()
	f.cpu, f.mem = 5, 100
	m := f.monitor()

	op := m.TrackOperation("hot loop")
	assert.Equal(t, 1, m.ActiveOperations())
	f.cpu = 15 // operation raised CPU by 10
	op.Done()

	assert.Equal(t, 0, m.ActiveOperations())
	assert.InDelta(t, 100.0-initialOperationCost-10.0, m.Budget(), 1e-9)

	// Done is idempotent.
	op.Done()
	assert.Equal(t, 0, m.ActiveOperations())
}

func TestThrottle_OnRisingTrendNearLimit(t *testing.T) {
	f := newFakeEnv()
	f.mem = 100
	m := f.monitor()

	// Rising trend past 70% of the 27% limit.
	for _, cpu := range []float64{15, 17, 19, 21, 23} {
		f.cpu = cpu
		m.Sample()
	}
	op := m.TrackOperation("expensive")
	op.Done()
	require.NotEmpty(t, f.slept)
	assert.Greater(t, f.slept[0], 10*time.Millisecond)
}

func TestThrottle_SkippedOnFallingTrend(t *testing.T) {
	f := newFakeEnv()
	f.mem = 100
	m := f.monitor()

	for _, cpu := range []float64{25, 23, 21, 19, 17} {
		f.cpu = cpu
		m.Sample()
	}
	op := m.TrackOperation("op")
	op.Done()
	assert.Empty(t, f.slept)
}

func TestSustainedBreach_TriggersCooldown(t *testing.T) {
	f := newFakeEnv()
	f.mem = 100
	m := f.monitor()

	f.cpu = 30
	m.Sample()
	m.Sample()
	assert.Equal(t, 100.0, m.Budget())

	// Third consecutive breach starts the cooldown and shrinks the budget.
	m.Sample()
	assert.InDelta(t, 50.0, m.Budget(), 1e-9)
	assert.False(t, m.CheckAvailableResources())

	// Gate reopens once the cooldown lapses and CPU recovers.
	f.advance(4 * time.Second)
	f.cpu = 5
	m.Sample()
	assert.True(t, m.CheckAvailableResources())
}

func TestBreachStreak_ResetsOnRecovery(t *testing.T) {
	f := newFakeEnv()
	f.mem = 100
	m := f.monitor()

	f.cpu = 30
	m.Sample()
	m.Sample()
	f.cpu = 10
	m.Sample()
	f.cpu = 30
	m.Sample()
	m.Sample()
	// Streak never reached three in a row.
	assert.Equal(t, 100.0, m.Budget())
}

func TestReport(t *testing.T) {
	f := newFakeEnv()
	f.cpu, f.mem = 12.5, 300
	m := f.monitor()
	m.Sample()

	r := m.Report()
	assert.Equal(t, 12.5, r["cpu_percent"])
	assert.Equal(t, 300.0, r["memory_mb"])
	assert.Equal(t, DefaultCPULimit, r["cpu_limit"])
	assert.Equal(t, false, r["cooling_down"])
}
