package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// cycleLength is the span of a billing cycle.
const cycleLength = 30 * 24 * time.Hour

// Tracker meters agent usage, maintains append-only pricing, and manages
// billing cycles.
type Tracker struct {
	store Store
	log   *logrus.Entry
}

// NewTracker creates a usage tracker over a billing store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		log:   logrus.WithField("component", "usage"),
	}
}

// RecordUsage meters one unit of agent activity.
func (t *Tracker) RecordUsage(ctx context.Context, agentID, userID, usageType string, quantity float64, unit string) (*models.UsageRecord, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	if agentID == "" || userID == "" || usageType == "" {
		return nil, fmt.Errorf("%w: agent id, user id and usage type are required", models.ErrValidation)
	}

	record := &models.UsageRecord{
		RecordID:  uuid.New().String(),
		AgentID:   agentID,
		UserID:    userID,
		UsageType: usageType,
		Quantity:  quantity,
		Unit:      unit,
		Timestamp: time.Now().UTC(),
	}
	err := t.store.InTx(ctx, func(tx StoreTx) error {
		return tx.InsertUsageRecord(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SetPrice appends a pricing tier for a usage type. Pricing history is never
// rewritten; cost queries pick the most recent effective date.
func (t *Tracker) SetPrice(ctx context.Context, usageType string, pricePerUnit float64, tierStart, tierEnd *float64) error {
	if pricePerUnit < 0 {
		return fmt.Errorf("%w: price per unit must not be negative", models.ErrValidation)
	}
	tier := &models.PricingTier{
		UsageType:     usageType,
		PricePerUnit:  pricePerUnit,
		TierStart:     tierStart,
		TierEnd:       tierEnd,
		EffectiveDate: time.Now().UTC(),
	}
	return t.store.InTx(ctx, func(tx StoreTx) error {
		return tx.InsertPricingTier(ctx, tier)
	})
}

// StartBillingCycle opens a 30-day cycle for the user. Only one cycle may be
// active per user at a time.
func (t *Tracker) StartBillingCycle(ctx context.Context, userID string) (*models.BillingCycle, error) {
	var cycle *models.BillingCycle
	err := t.store.InTx(ctx, func(tx StoreTx) error {
		if existing, err := tx.GetActiveBillingCycle(ctx, userID); err == nil {
			return fmt.Errorf("%w: user %s already has active cycle %s",
				models.ErrValidation, userID, existing.CycleID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		cycle = &models.BillingCycle{
			CycleID:   uuid.New().String(),
			UserID:    userID,
			StartDate: now,
			EndDate:   now.Add(cycleLength),
			Status:    models.CycleActive,
		}
		return tx.InsertBillingCycle(ctx, cycle)
	})
	if err != nil {
		return nil, err
	}
	t.log.Infof("Started billing cycle %s for user %s", cycle.CycleID, userID)
	return cycle, nil
}

// ActiveBillingCycle returns the user's active cycle, if any.
func (t *Tracker) ActiveBillingCycle(ctx context.Context, userID string) (*models.BillingCycle, error) {
	var cycle *models.BillingCycle
	err := t.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		cycle, err = tx.GetActiveBillingCycle(ctx, userID)
		return err
	})
	return cycle, err
}

// CloseBillingCycle closes a cycle against an invoice and marks all usage
// records inside the cycle window as billed.
func (t *Tracker) CloseBillingCycle(ctx context.Context, cycleID, invoiceID string) error {
	return t.store.InTx(ctx, func(tx StoreTx) error {
		cycle, err := tx.GetBillingCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status != models.CycleActive {
			return fmt.Errorf("%w: cycle %s is not active", models.ErrValidation, cycleID)
		}
		if err := tx.CloseBillingCycle(ctx, cycleID, invoiceID); err != nil {
			return err
		}
		marked, err := tx.MarkUsageBilled(ctx, cycle.UserID, cycle.StartDate, cycle.EndDate)
		if err != nil {
			return err
		}
		t.log.Infof("Closed cycle %s, marked %d usage records billed", cycleID, marked)
		return nil
	})
}

// CalculateUsageCost sums the user's usage over the window, priced per usage
// type by the most recent pricing tier.
func (t *Tracker) CalculateUsageCost(ctx context.Context, userID string, start, end time.Time) (float64, []models.UsageSummary, error) {
	var (
		total   float64
		summary []models.UsageSummary
	)
	err := t.store.InTx(ctx, func(tx StoreTx) error {
		records, err := tx.ListUsageRecords(ctx, userID, start, end)
		if err != nil {
			return err
		}
		quantities := make(map[string]float64)
		for _, r := range records {
			quantities[r.UsageType] += r.Quantity
		}

		types, err := tx.ListPricedUsageTypes(ctx)
		if err != nil {
			return err
		}
		for _, usageType := range types {
			qty := quantities[usageType]
			if qty == 0 {
				continue
			}
			tier, err := tx.LatestPricingTier(ctx, usageType)
			if err != nil {
				return err
			}
			cost := qty * tier.PricePerUnit
			total += cost
			summary = append(summary, models.UsageSummary{
				UsageType:     usageType,
				TotalQuantity: qty,
				PricePerUnit:  tier.PricePerUnit,
				Cost:          cost,
			})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return total, summary, nil
}
