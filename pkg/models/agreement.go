package models

import "time"

// Agreement types
const (
	AgreementFree       = "free"
	AgreementPersonal   = "personal"
	AgreementBusiness   = "business"
	AgreementEnterprise = "enterprise"
	AgreementCustom     = "custom"
)

// Agreement statuses
const (
	StatusDraft      = "draft"
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusSuspended  = "suspended"
	StatusTerminated = "terminated"
	StatusExpired    = "expired"
)

// Signature records one party's sign-off on an agreement.
type Signature struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry is one event in an agreement's ordered audit trail.
type AuditEntry struct {
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AgreementPricing carries the commercial terms: a recurring base fee plus
// per-metric overage rates applied beyond the declared usage limits.
type AgreementPricing struct {
	BaseFee      float64            `json:"base_fee"`
	OverageRates map[string]float64 `json:"overage_rates,omitempty"`
	Custom       bool               `json:"custom,omitempty"`
}

// Agreement is a staged contract between a consumer and a provider over a
// resource. Serialised to <agreement_id>.json in the agreements directory.
type Agreement struct {
	AgreementID    string                 `json:"agreement_id"`
	ConsumerID     string                 `json:"consumer_id"`
	ProviderID     string                 `json:"provider_id"`
	ResourceID     string                 `json:"resource_id"`
	AgreementType  string                 `json:"agreement_type"`
	Status         string                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	EffectiveDate  *time.Time             `json:"effective_date,omitempty"`
	ExpirationDate *time.Time             `json:"expiration_date,omitempty"`
	Terms          map[string]interface{} `json:"terms,omitempty"`
	UsageLimits    map[string]float64     `json:"usage_limits,omitempty"`
	CurrentUsage   map[string]float64     `json:"current_usage,omitempty"`
	Pricing        AgreementPricing       `json:"pricing"`
	Signatures     map[string]Signature   `json:"signatures,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
	AuditTrail     []AuditEntry           `json:"audit_trail,omitempty"`
}

// IsExpired reports whether the agreement carries an expiration date that has
// already passed.
func (a *Agreement) IsExpired(now time.Time) bool {
	return a.ExpirationDate != nil && now.After(*a.ExpirationDate)
}
