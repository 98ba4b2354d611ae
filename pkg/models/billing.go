package models

import "time"

// Wallet is a per-user balance backed by an append-only transaction log.
type Wallet struct {
	WalletID  string    `json:"wallet_id"`
	UserID    string    `json:"user_id"`
	Balance   float64   `json:"balance"` // invariant: sum of transaction amounts, never negative
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction types
const (
	TxDeposit  = "deposit"
	TxWithdraw = "withdraw"
)

// WalletTransaction is one signed ledger entry. Amount is negative for
// withdrawals so that a wallet balance is always the plain sum of its rows.
type WalletTransaction struct {
	TransactionID string    `json:"transaction_id"`
	WalletID      string    `json:"wallet_id"`
	Amount        float64   `json:"amount"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UsageRecord is one metered unit of agent activity.
type UsageRecord struct {
	RecordID  string    `json:"record_id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	UsageType string    `json:"usage_type"`
	Quantity  float64   `json:"quantity"` // must be > 0
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Billed    bool      `json:"billed"`
}

// PricingTier prices one usage type. Pricing is append-only; the row with the
// most recent EffectiveDate wins in cost queries.
type PricingTier struct {
	UsageType     string    `json:"usage_type"`
	PricePerUnit  float64   `json:"price_per_unit"` // >= 0
	TierStart     *float64  `json:"tier_start,omitempty"`
	TierEnd       *float64  `json:"tier_end,omitempty"`
	EffectiveDate time.Time `json:"effective_date"`
}

// Billing cycle statuses
const (
	CycleActive = "active"
	CycleClosed = "closed"
)

// BillingCycle bounds a window of usage before invoicing. At most one active
// cycle exists per user.
type BillingCycle struct {
	CycleID   string    `json:"cycle_id"`
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    string    `json:"status"`
	InvoiceID string    `json:"invoice_id,omitempty"`
}

// RevenueShareConfig splits revenue between the three parties. Shares are
// percentages and must sum to 100 within 0.01.
type RevenueShareConfig struct {
	ResourceType   string  `json:"resource_type"`
	ResourceID     string  `json:"resource_id,omitempty"` // specific override when set
	PlatformShare  float64 `json:"platform_share"`
	DeveloperShare float64 `json:"developer_share"`
	ProviderShare  float64 `json:"provider_share"`
}

// Distribution statuses
const (
	DistributionPending   = "pending"
	DistributionCompleted = "completed"
)

// RevenueDistribution records one pending or completed split of a payment.
type RevenueDistribution struct {
	DistributionID  string    `json:"distribution_id"`
	TransactionID   string    `json:"transaction_id"`
	ResourceID      string    `json:"resource_id"`
	ResourceType    string    `json:"resource_type"`
	TotalAmount     float64   `json:"total_amount"`
	PlatformAmount  float64   `json:"platform_amount"`
	DeveloperAmount float64   `json:"developer_amount"`
	ProviderAmount  float64   `json:"provider_amount"`
	PlatformID      string    `json:"platform_id"`
	DeveloperID     string    `json:"developer_id"`
	ProviderID      string    `json:"provider_id,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// UsageSummary is one line of a cost calculation.
type UsageSummary struct {
	UsageType     string  `json:"usage_type"`
	TotalQuantity float64 `json:"total_quantity"`
	PricePerUnit  float64 `json:"price_per_unit"`
	Cost          float64 `json:"cost"`
}

// Invoice summarises a closed billing cycle.
type Invoice struct {
	InvoiceID    string         `json:"invoice_id"`
	UserID       string         `json:"user_id"`
	CycleID      string         `json:"cycle_id"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
	TotalCost    float64        `json:"total_cost"`
	UsageSummary []UsageSummary `json:"usage_summary"`
	NewCycleID   string         `json:"new_cycle_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Earnings summarises a user's completed revenue-share income.
type Earnings struct {
	UserID              string                `json:"user_id"`
	TotalEarnings       float64               `json:"total_earnings"`
	PlatformEarnings    float64               `json:"platform_earnings"`
	DeveloperEarnings   float64               `json:"developer_earnings"`
	ProviderEarnings    float64               `json:"provider_earnings"`
	RecentDistributions []RevenueDistribution `json:"recent_distributions"`
}
