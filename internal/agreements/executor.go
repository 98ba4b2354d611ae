package agreements

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Executor sweep cadences.
const (
	defaultMonitorInterval = 30 * time.Second
	defaultBillingInterval = time.Hour
	defaultCleanupInterval = 24 * time.Hour

	billingPeriodDays = 30
	archiveAfterDays  = 90
)

// Metadata keys stamped by the executor.
const (
	metaLastBilled     = "last_billed_date"
	metaPaymentFailure = "payment_failure_date"
	metaOveragePrefix  = "overage_recorded_"
)

// Executor enforces agreements in the background: it sweeps usage limits,
// charges recurring fees and archives long-expired agreements. The three
// workers run independently and coordinate only through the stored records.
type Executor struct {
	engine  *Engine
	billing *billing.System
	log     *logrus.Entry

	monitorInterval time.Duration
	billingInterval time.Duration
	cleanupInterval time.Duration

	wg sync.WaitGroup
}

// ExecutorOption adjusts an Executor at construction.
type ExecutorOption func(*Executor)

// WithIntervals overrides the three sweep cadences.
func WithIntervals(monitor, billing, cleanup time.Duration) ExecutorOption {
	return func(x *Executor) {
		x.monitorInterval = monitor
		x.billingInterval = billing
		x.cleanupInterval = cleanup
	}
}

// NewExecutor creates an agreement executor.
func NewExecutor(engine *Engine, billingSystem *billing.System, opts ...ExecutorOption) *Executor {
	x := &Executor{
		engine:          engine,
		billing:         billingSystem,
		log:             logrus.WithField("component", "executor"),
		monitorInterval: defaultMonitorInterval,
		billingInterval: defaultBillingInterval,
		cleanupInterval: defaultCleanupInterval,
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Start launches the three workers. They exit when the context is cancelled;
// Wait blocks until all have stopped.
func (x *Executor) Start(ctx context.Context) {
	x.log.Info("Starting agreement executor")
	x.wg.Add(3)
	go x.run(ctx, "monitor", x.monitorInterval, x.SweepUsage)
	go x.run(ctx, "billing", x.billingInterval, x.SweepBilling)
	go x.run(ctx, "cleanup", x.cleanupInterval, x.SweepCleanup)
}

// Wait blocks until every worker has exited.
func (x *Executor) Wait() {
	x.wg.Wait()
	x.log.Info("Agreement executor stopped")
}

func (x *Executor) run(ctx context.Context, name string, interval time.Duration, sweep func(ctx context.Context) error) {
	defer x.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			x.log.Infof("Worker %s shutting down", name)
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				// A failed iteration is logged and abandoned; the worker
				// continues on the next tick.
				x.log.Errorf("Worker %s sweep failed: %v", name, err)
			}
		}
	}
}

// SweepUsage expires past-due agreements and enforces usage limits:
// exhausted free agreements are suspended, paid tiers get their overage
// metered into billing.
func (x *Executor) SweepUsage(ctx context.Context) error {
	ids, err := x.engine.ListAgreements(models.StatusActive)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := x.enforceAgreement(ctx, id); err != nil {
			x.log.Errorf("Error processing agreement %s: %v", id, err)
		}
	}
	return nil
}

// EnforceAgreement applies the usage sweep to a single agreement: expire if
// past due, suspend exhausted free tiers, meter paid-tier overage.
func (x *Executor) EnforceAgreement(ctx context.Context, agreementID string) error {
	return x.enforceAgreement(ctx, agreementID)
}

func (x *Executor) enforceAgreement(ctx context.Context, agreementID string) error {
	a, err := x.engine.Get(agreementID)
	if err != nil {
		return err
	}

	if a.IsExpired(time.Now().UTC()) {
		x.log.Infof("Agreement %s has expired", agreementID)
		return x.engine.Expire(agreementID)
	}

	status, err := x.engine.UsageStatus(agreementID)
	if err != nil {
		return err
	}
	for metric, st := range status {
		if !st.LimitReached {
			continue
		}
		x.log.Warnf("Agreement %s reached %s limit: %.0f/%.0f",
			agreementID, metric, st.CurrentUsage, st.Limit)

		switch a.AgreementType {
		case models.AgreementFree:
			return x.engine.Suspend(agreementID, fmt.Sprintf("%s limit reached", metric))
		case models.AgreementPersonal, models.AgreementBusiness:
			if err := x.recordOverage(ctx, a, metric, st); err != nil {
				x.log.Errorf("Error recording overage for %s: %v", agreementID, err)
			}
		}
	}
	return nil
}

// recordOverage meters the unbilled part of a metric's overage. The already
// recorded amount is stamped in metadata so repeated sweeps bill each unit
// once.
func (x *Executor) recordOverage(ctx context.Context, a *models.Agreement, metric string, st MetricStatus) error {
	if _, priced := a.Pricing.OverageRates[metric]; !priced {
		return nil
	}

	overage := st.CurrentUsage - st.Limit
	already := 0.0
	if prev, ok := a.Metadata[metaOveragePrefix+metric]; ok {
		already, _ = strconv.ParseFloat(prev, 64)
	}
	delta := overage - already
	if delta <= 0 {
		return nil
	}

	_, err := x.billing.Tracker.RecordUsage(ctx, a.ResourceID, a.ConsumerID,
		"overage_"+metric, delta, UnitForMetric(metric))
	if err != nil {
		return err
	}
	if err := x.engine.SetMetadata(a.AgreementID, metaOveragePrefix+metric,
		strconv.FormatFloat(overage, 'f', -1, 64)); err != nil {
		return err
	}
	x.log.Infof("Recorded overage for agreement %s: %.2f %s", a.AgreementID, delta, metric)
	return nil
}

// UnitForMetric maps a usage metric to its canonical billing unit.
func UnitForMetric(metric string) string {
	switch metric {
	case MetricAPICalls:
		return "call"
	case MetricCPUTime:
		return "minute"
	case MetricMemory, MetricStorage, MetricBandwidth:
		return "MB"
	}
	return "unit"
}

// SweepBilling charges the recurring base fee on every active paid
// agreement at most once per billing period. A failed charge suspends
// non-enterprise agreements.
func (x *Executor) SweepBilling(ctx context.Context) error {
	ids, err := x.engine.ListAgreements(models.StatusActive)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, id := range ids {
		a, err := x.engine.Get(id)
		if err != nil {
			x.log.Errorf("Error loading agreement %s: %v", id, err)
			continue
		}
		if a.AgreementType == models.AgreementFree || a.Pricing.BaseFee <= 0 {
			continue
		}
		if last, ok := a.Metadata[metaLastBilled]; ok {
			if ts, err := time.Parse(time.RFC3339, last); err == nil &&
				now.Sub(ts) < billingPeriodDays*24*time.Hour {
				continue
			}
		}

		_, err = x.billing.ProcessAgentPurchase(ctx, a.ConsumerID, a.ProviderID, "",
			a.ResourceID, "agent", a.Pricing.BaseFee)
		if err != nil {
			x.log.Errorf("Failed to process billing for agreement %s: %v", id, err)
			if a.AgreementType != models.AgreementEnterprise {
				if err := x.engine.SetMetadata(id, metaPaymentFailure, now.Format(time.RFC3339)); err != nil {
					x.log.Errorf("Error stamping payment failure on %s: %v", id, err)
				}
				if err := x.engine.Suspend(id, "payment failure"); err != nil {
					x.log.Errorf("Error suspending agreement %s: %v", id, err)
				}
			}
			continue
		}

		if err := x.engine.SetMetadata(id, metaLastBilled, now.Format(time.RFC3339)); err != nil {
			x.log.Errorf("Error stamping last billed date on %s: %v", id, err)
		}
		x.log.Infof("Processed recurring fee %.2f for agreement %s", a.Pricing.BaseFee, id)
	}
	return nil
}

// SweepCleanup archives agreements that expired more than 90 days ago.
func (x *Executor) SweepCleanup(context.Context) error {
	ids, err := x.engine.ListAgreements(models.StatusExpired)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	for _, id := range ids {
		a, err := x.engine.Get(id)
		if err != nil {
			continue
		}
		if a.ExpirationDate == nil || now.Sub(*a.ExpirationDate) <= archiveAfterDays*24*time.Hour {
			continue
		}
		if err := x.engine.Archive(id); err != nil {
			x.log.Errorf("Error archiving agreement %s: %v", id, err)
		}
	}
	return nil
}
