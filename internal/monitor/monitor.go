// Package monitor is the process-wide resource governor. It samples the
// process's CPU share and resident memory, keeps a short trend window,
// enforces a refilling CPU budget and throttles work that is trending toward
// the hard ceilings.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// Hard ceilings and tuning constants.
const (
	DefaultCPULimit    = 27.0 // percent of one core
	DefaultMemoryLimit = 827  // MB

	cpuWarningThreshold    = 20.0
	memoryWarningThreshold = 700.0

	defaultSamplingInterval = time.Second
	trendWindow             = 5
	throttleFactor          = 0.8
	budgetRefillRate        = 5.0 // percent per second
	fullBudget              = 100.0
	initialOperationCost    = 5.0

	// Sustained breach handling.
	breachStreakLimit = 3
	cooldownDuration  = 3 * time.Second
	cooldownPenalty   = 0.5 // budget shrink factor after a sustained breach
)

// Sampler reads the process's current CPU percent and memory in MB. The
// default uses gopsutil; tests substitute deterministic readings.
type Sampler func() (cpuPercent, memoryMB float64, err error)

func processSampler() Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	return func() (float64, float64, error) {
		if err != nil {
			return 0, 0, fmt.Errorf("open process: %w", err)
		}
		cpu, cerr := proc.CPUPercent()
		if cerr != nil {
			return 0, 0, cerr
		}
		mi, merr := proc.MemoryInfo()
		if merr != nil {
			return 0, 0, merr
		}
		return cpu, float64(mi.RSS) / (1024 * 1024), nil
	}
}

// Monitor samples resources and gates expensive operations. One monitor per
// process.
type Monitor struct {
	cpuLimit    float64
	memoryLimit float64
	interval    time.Duration
	sampler     Sampler
	sleep       func(time.Duration)
	now         func() time.Time

	mu               sync.Mutex
	cpuSamples       []float64
	memorySamples    []float64
	budget           float64
	lastBudgetUpdate time.Time
	breachStreak     int
	coolingUntil     time.Time
	operations       int

	wg  sync.WaitGroup
	log *logrus.Entry
}

// Option adjusts a Monitor at construction.
type Option func(*Monitor)

// WithLimits overrides the CPU and memory ceilings.
func WithLimits(cpuPercent, memoryMB float64) Option {
	return func(m *Monitor) {
		m.cpuLimit = cpuPercent
		m.memoryLimit = memoryMB
	}
}

// WithSampler substitutes the resource sampler.
func WithSampler(s Sampler) Option { return func(m *Monitor) { m.sampler = s } }

// WithSamplingInterval overrides the sampling cadence.
func WithSamplingInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

// withClock substitutes time sources in tests.
func withClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(m *Monitor) {
		m.now = now
		m.sleep = sleep
	}
}

// New creates a monitor with the default hard ceilings. MCP_TESTING_MODE and
// MCP_LOW_CPU_MODE tighten the ceilings for constrained environments.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		cpuLimit:    DefaultCPULimit,
		memoryLimit: DefaultMemoryLimit,
		interval:    defaultSamplingInterval,
		sampler:     processSampler(),
		sleep:       time.Sleep,
		now:         time.Now,
		budget:      fullBudget,
		log:         logrus.WithField("component", "monitor"),
	}
	if os.Getenv("MCP_TESTING_MODE") == "true" || os.Getenv("MCP_LOW_CPU_MODE") == "true" {
		m.cpuLimit = cpuWarningThreshold
		m.memoryLimit = memoryWarningThreshold
	}
	for _, o := range opts {
		o(m)
	}
	m.lastBudgetUpdate = m.now()
	return m
}

// Start launches the background sampler. It exits when the context is
// cancelled; Wait blocks until it has stopped.
func (m *Monitor) Start(ctx context.Context) {
	m.log.Infof("Starting resource monitor (cpu limit %.1f%%, memory limit %.0fMB)",
		m.cpuLimit, m.memoryLimit)
	m.wg.Add(1)
	go m.run(ctx)
}

// Wait blocks until the sampler has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
	m.log.Info("Resource monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one reading, folds it into the trend window, refills the
// budget and applies sustained-breach handling.
func (m *Monitor) Sample() {
	cpu, mem, err := m.sampler()
	if err != nil {
		m.log.Errorf("Error sampling resources: %v", err)
		return
	}

	m.mu.Lock()
	m.cpuSamples = append(m.cpuSamples, cpu)
	m.memorySamples = append(m.memorySamples, mem)
	if len(m.cpuSamples) > trendWindow {
		m.cpuSamples = m.cpuSamples[len(m.cpuSamples)-trendWindow:]
	}
	if len(m.memorySamples) > trendWindow {
		m.memorySamples = m.memorySamples[len(m.memorySamples)-trendWindow:]
	}
	m.refillBudgetLocked()

	if cpu > m.cpuLimit {
		m.breachStreak++
		if m.breachStreak >= breachStreakLimit && m.now().After(m.coolingUntil) {
			m.coolingUntil = m.now().Add(cooldownDuration)
			m.budget *= cooldownPenalty
			m.log.Warnf("Sustained CPU breach (%.1f%% for %d samples), cooling down for %s",
				cpu, m.breachStreak, cooldownDuration)
		}
	} else {
		m.breachStreak = 0
	}
	m.mu.Unlock()

	if cpu >= cpuWarningThreshold {
		m.log.Warnf("CPU usage is high: %.1f%% (limit: %.1f%%)", cpu, m.cpuLimit)
	}
	if mem >= memoryWarningThreshold {
		m.log.Warnf("Memory usage is high: %.1fMB (limit: %.0fMB)", mem, m.memoryLimit)
	}
}

func (m *Monitor) refillBudgetLocked() {
	now := m.now()
	elapsed := now.Sub(m.lastBudgetUpdate).Seconds()
	m.lastBudgetUpdate = now
	if elapsed > 0 {
		m.budget = minF(fullBudget, m.budget+budgetRefillRate*elapsed)
	}
}

// Usage returns the latest CPU percent and memory MB readings.
func (m *Monitor) Usage() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cpu, mem float64
	if len(m.cpuSamples) > 0 {
		cpu = m.cpuSamples[len(m.cpuSamples)-1]
	}
	if len(m.memorySamples) > 0 {
		mem = m.memorySamples[len(m.memorySamples)-1]
	}
	return cpu, mem
}

// Budget returns the remaining CPU budget.
func (m *Monitor) Budget() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// CheckAvailableResources reports whether a new expensive operation may
// start: false during a cooldown, when the latest reading is at or past a
// ceiling or when the budget is exhausted.
func (m *Monitor) CheckAvailableResources() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.now().Before(m.coolingUntil) {
		m.log.Warn("Resource gate closed during cooldown")
		return false
	}
	if len(m.cpuSamples) > 0 && m.cpuSamples[len(m.cpuSamples)-1] >= m.cpuLimit {
		m.log.Warnf("CPU usage (%.1f%%) exceeds limit (%.1f%%)",
			m.cpuSamples[len(m.cpuSamples)-1], m.cpuLimit)
		return false
	}
	if len(m.memorySamples) > 0 && m.memorySamples[len(m.memorySamples)-1] >= m.memoryLimit {
		m.log.Warnf("Memory usage (%.1fMB) exceeds limit (%.0fMB)",
			m.memorySamples[len(m.memorySamples)-1], m.memoryLimit)
		return false
	}
	m.refillBudgetLocked()
	if m.budget <= 0 {
		m.log.Warn("CPU budget exhausted, need to wait for refill")
		return false
	}
	return true
}

// trend is the simple slope over the window: positive means increasing.
func trend(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	return (samples[len(samples)-1] - samples[0]) / float64(len(samples))
}

// maybeThrottle sleeps proportionally to how close CPU is to the limit when
// the trend is non-decreasing and usage is past 70% of the limit.
func (m *Monitor) maybeThrottle() {
	m.mu.Lock()
	if len(m.cpuSamples) < 2 {
		m.mu.Unlock()
		return
	}
	cpuTrend := trend(m.cpuSamples)
	latest := m.cpuSamples[len(m.cpuSamples)-1]
	m.mu.Unlock()

	if cpuTrend >= 0 && latest > 0.7*m.cpuLimit {
		delay := time.Duration(latest / m.cpuLimit * throttleFactor * float64(time.Second))
		if delay > 10*time.Millisecond {
			m.log.Debugf("Throttling: cpu %.1f%% trending %.2f, sleeping %s", latest, cpuTrend, delay)
			m.sleep(delay)
		}
	}
}

// Operation is a scoped acquisition of the monitor. Done must be called on
// every exit path; it settles the budget with the measured CPU delta.
type Operation struct {
	monitor  *Monitor
	name     string
	startCPU float64
	started  time.Time
	done     bool
}

// TrackOperation throttles if the trend demands it, deducts the initial
// budget cost and returns a handle whose Done settles the measured usage.
func (m *Monitor) TrackOperation(name string) *Operation {
	m.maybeThrottle()

	cpu, _, _ := m.sampler()
	m.mu.Lock()
	m.operations++
	m.refillBudgetLocked()
	m.budget = maxF(0, m.budget-initialOperationCost)
	m.mu.Unlock()

	return &Operation{monitor: m, name: name, startCPU: cpu, started: m.now()}
}

// Done releases the operation. Safe to call more than once.
func (op *Operation) Done() {
	if op.done {
		return
	}
	op.done = true

	m := op.monitor
	endCPU, _, _ := m.sampler()
	elapsed := m.now().Sub(op.started)

	m.mu.Lock()
	m.operations--
	if delta := endCPU - op.startCPU; delta > 0 {
		m.budget = maxF(0, m.budget-delta)
	}
	m.mu.Unlock()

	m.log.Debugf("Operation %q used %.1f%% CPU, took %s", op.name, endCPU-op.startCPU, elapsed)
}

// ActiveOperations returns how many tracked operations are in flight.
func (m *Monitor) ActiveOperations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operations
}

// Report summarises the monitor state for the system status surface.
func (m *Monitor) Report() map[string]interface{} {
	cpu, mem := m.Usage()
	m.mu.Lock()
	budget := m.budget
	ops := m.operations
	cooling := m.now().Before(m.coolingUntil)
	m.mu.Unlock()

	return map[string]interface{}{
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"cpu_percent":       cpu,
		"memory_mb":         mem,
		"cpu_limit":         m.cpuLimit,
		"memory_limit":      m.memoryLimit,
		"cpu_budget":        budget,
		"active_operations": ops,
		"cooling_down":      cooling,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
