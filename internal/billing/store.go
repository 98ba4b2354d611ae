package billing

import (
	"context"
	"time"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// StoreTx is the unit-of-work view of the billing store. All reads and
// writes inside one InTx callback observe each other and commit or roll back
// together.
type StoreTx interface {
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error)
	InsertWallet(ctx context.Context, w *models.Wallet) error
	UpdateWalletBalance(ctx context.Context, walletID string, balance float64, updatedAt time.Time) error
	InsertTransaction(ctx context.Context, tx *models.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID string, limit int) ([]*models.WalletTransaction, error)

	InsertUsageRecord(ctx context.Context, r *models.UsageRecord) error
	ListUsageRecords(ctx context.Context, userID string, start, end time.Time) ([]*models.UsageRecord, error)
	MarkUsageBilled(ctx context.Context, userID string, start, end time.Time) (int, error)

	InsertPricingTier(ctx context.Context, t *models.PricingTier) error
	LatestPricingTier(ctx context.Context, usageType string) (*models.PricingTier, error)
	ListPricedUsageTypes(ctx context.Context) ([]string, error)

	GetActiveBillingCycle(ctx context.Context, userID string) (*models.BillingCycle, error)
	GetBillingCycle(ctx context.Context, cycleID string) (*models.BillingCycle, error)
	InsertBillingCycle(ctx context.Context, c *models.BillingCycle) error
	CloseBillingCycle(ctx context.Context, cycleID, invoiceID string) error

	UpsertShareConfig(ctx context.Context, cfg *models.RevenueShareConfig) error
	GetShareConfig(ctx context.Context, resourceType, resourceID string) (*models.RevenueShareConfig, error)

	InsertDistribution(ctx context.Context, d *models.RevenueDistribution) error
	GetDistribution(ctx context.Context, distributionID string) (*models.RevenueDistribution, error)
	SetDistributionStatus(ctx context.Context, distributionID, status string) error
	ListDistributionsByRecipient(ctx context.Context, userID string, limit int) ([]*models.RevenueDistribution, error)
}

// Store runs billing units of work. A returned error from the callback rolls
// the whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(tx StoreTx) error) error
}
