package agreements

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// defaultTermDays applies when an agreement activates without an explicit
// expiration date.
const defaultTermDays = 365

// archiveDir holds agreements removed from the active directory.
const archiveDir = "archives"

// Usage metrics recognised by agreements.
const (
	MetricAPICalls  = "api_calls"
	MetricCPUTime   = "cpu_time"
	MetricMemory    = "memory"
	MetricStorage   = "storage"
	MetricBandwidth = "bandwidth"
)

// ValidityResult is the outcome of a validity check.
type ValidityResult struct {
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
	AgreementType string `json:"agreement_type,omitempty"`
	ConsumerID    string `json:"consumer_id,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
}

// UsageResult is the outcome of recording usage against an agreement.
type UsageResult struct {
	Success bool    `json:"success"`
	Warning string  `json:"warning,omitempty"`
	Limit   float64 `json:"limit,omitempty"`
	Usage   float64 `json:"usage,omitempty"`
}

// MetricStatus reports one metric's position against its declared limit.
type MetricStatus struct {
	CurrentUsage float64 `json:"current_usage"`
	Limit        float64 `json:"limit"`
	LimitReached bool    `json:"limit_reached"`
}

// Engine manages agreements as JSON documents on disk, one file per
// agreement in the active directory and archived copies under archives/.
type Engine struct {
	mu  sync.Mutex
	dir string
	log *logrus.Entry
}

// NewEngine creates an agreement engine rooted at dir.
func NewEngine(dir string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Join(dir, archiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create agreements dir: %v", models.ErrStorage, err)
	}
	log := logrus.WithField("component", "agreements")
	log.Infof("Agreement engine initialized with storage at %s", dir)
	return &Engine{dir: dir, log: log}, nil
}

func (e *Engine) path(agreementID string) string {
	return filepath.Join(e.dir, agreementID+".json")
}

func (e *Engine) load(agreementID string) (*models.Agreement, error) {
	raw, err := os.ReadFile(e.path(agreementID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: agreement %s", models.ErrNotFound, agreementID)
		}
		return nil, fmt.Errorf("%w: read agreement: %v", models.ErrStorage, err)
	}
	var a models.Agreement
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: decode agreement %s: %v", models.ErrStorage, agreementID, err)
	}
	return &a, nil
}

func (e *Engine) save(a *models.Agreement) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode agreement: %v", models.ErrStorage, err)
	}
	if err := os.WriteFile(e.path(a.AgreementID), raw, 0o644); err != nil {
		return fmt.Errorf("%w: write agreement: %v", models.ErrStorage, err)
	}
	return nil
}

func audit(a *models.Agreement, action string, details map[string]interface{}) {
	now := time.Now().UTC()
	a.AuditTrail = append(a.AuditTrail, models.AuditEntry{
		Action:    action,
		Timestamp: now,
		Details:   details,
	})
	a.UpdatedAt = now
}

// CreateAgreement starts a draft agreement between a consumer and a provider
// over a resource.
func (e *Engine) CreateAgreement(consumerID, providerID, resourceID, agreementType string) (*models.Agreement, error) {
	if consumerID == "" || providerID == "" || resourceID == "" {
		return nil, fmt.Errorf("%w: consumer, provider and resource are required", models.ErrValidation)
	}
	if agreementType == "" {
		agreementType = models.AgreementFree
	}

	now := time.Now().UTC()
	a := &models.Agreement{
		AgreementID:   uuid.New().String(),
		ConsumerID:    consumerID,
		ProviderID:    providerID,
		ResourceID:    resourceID,
		AgreementType: agreementType,
		Status:        models.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
		CurrentUsage:  make(map[string]float64),
		Metadata:      make(map[string]string),
	}
	audit(a, "created", nil)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.save(a); err != nil {
		return nil, err
	}
	e.log.Infof("Created agreement %s between %s and %s", a.AgreementID, consumerID, providerID)
	return a, nil
}

// Get returns an agreement by id.
func (e *Engine) Get(agreementID string) (*models.Agreement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(agreementID)
}

// mutate applies fn to a stored agreement and saves the result.
func (e *Engine) mutate(agreementID string, fn func(a *models.Agreement) error) (*models.Agreement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.load(agreementID)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := e.save(a); err != nil {
		return nil, err
	}
	return a, nil
}

// requireMutable rejects term changes once an agreement has gone active.
func requireMutable(a *models.Agreement) error {
	switch a.Status {
	case models.StatusDraft, models.StatusPending:
		return nil
	}
	return fmt.Errorf("%w: agreement %s is %s and can no longer be modified",
		models.ErrAgreementState, a.AgreementID, a.Status)
}

// SetTerms replaces the agreement terms.
func (e *Engine) SetTerms(agreementID string, terms map[string]interface{}) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if err := requireMutable(a); err != nil {
			return err
		}
		a.Terms = terms
		audit(a, "terms_updated", nil)
		return nil
	})
	return err
}

// SetUsageLimits declares per-metric usage ceilings.
func (e *Engine) SetUsageLimits(agreementID string, limits map[string]float64) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if err := requireMutable(a); err != nil {
			return err
		}
		a.UsageLimits = limits
		audit(a, "limits_updated", nil)
		return nil
	})
	return err
}

// SetPricing sets the base fee and overage rates.
func (e *Engine) SetPricing(agreementID string, pricing models.AgreementPricing) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if err := requireMutable(a); err != nil {
			return err
		}
		a.Pricing = pricing
		audit(a, "pricing_updated", nil)
		return nil
	})
	return err
}

// SetExpiration sets the expiration to the given number of days from the
// effective date, or from now while the agreement is not yet active.
func (e *Engine) SetExpiration(agreementID string, days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: expiration days must be positive", models.ErrValidation)
	}
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if err := requireMutable(a); err != nil {
			return err
		}
		base := time.Now().UTC()
		if a.EffectiveDate != nil {
			base = *a.EffectiveDate
		}
		exp := base.AddDate(0, 0, days)
		a.ExpirationDate = &exp
		audit(a, "expiration_set", map[string]interface{}{"expiration_date": exp})
		return nil
	})
	return err
}

// Submit moves a draft agreement to pending.
func (e *Engine) Submit(agreementID string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status != models.StatusDraft {
			return fmt.Errorf("%w: cannot submit agreement in status %s", models.ErrAgreementState, a.Status)
		}
		a.Status = models.StatusPending
		audit(a, "submitted", nil)
		return nil
	})
	return err
}

// Sign records a party's signature. The second signature auto-activates the
// agreement. Re-signing by the same party is a no-op.
func (e *Engine) Sign(agreementID, partyID, signature string) (*models.Agreement, error) {
	return e.mutate(agreementID, func(a *models.Agreement) error {
		if partyID != a.ConsumerID && partyID != a.ProviderID {
			return fmt.Errorf("%w: %s is not a party to agreement %s", models.ErrValidation, partyID, agreementID)
		}
		if a.Status != models.StatusPending {
			return fmt.Errorf("%w: cannot sign agreement in status %s", models.ErrAgreementState, a.Status)
		}
		if a.Signatures == nil {
			a.Signatures = make(map[string]models.Signature)
		}
		if _, signed := a.Signatures[partyID]; signed {
			return nil
		}

		a.Signatures[partyID] = models.Signature{
			Signature: signature,
			Timestamp: time.Now().UTC(),
		}
		audit(a, "signed", map[string]interface{}{"party": partyID})

		if len(a.Signatures) == 2 {
			now := time.Now().UTC()
			a.Status = models.StatusActive
			a.EffectiveDate = &now
			if a.ExpirationDate == nil {
				exp := now.AddDate(0, 0, defaultTermDays)
				a.ExpirationDate = &exp
			}
			audit(a, "activated", nil)
			e.log.Infof("Agreement %s activated", agreementID)
		}
		return nil
	})
}

// Suspend halts an active agreement.
func (e *Engine) Suspend(agreementID, reason string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status != models.StatusActive {
			return fmt.Errorf("%w: cannot suspend agreement in status %s", models.ErrAgreementState, a.Status)
		}
		a.Status = models.StatusSuspended
		audit(a, "suspended", map[string]interface{}{"reason": reason})
		return nil
	})
	if err == nil {
		e.log.Warnf("Agreement %s suspended: %s", agreementID, reason)
	}
	return err
}

// Resume reactivates a suspended agreement.
func (e *Engine) Resume(agreementID string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status != models.StatusSuspended {
			return fmt.Errorf("%w: cannot resume agreement in status %s", models.ErrAgreementState, a.Status)
		}
		a.Status = models.StatusActive
		audit(a, "resumed", nil)
		return nil
	})
	return err
}

// Terminate ends an agreement from any state except terminated or expired.
func (e *Engine) Terminate(agreementID, reason string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status == models.StatusTerminated || a.Status == models.StatusExpired {
			return fmt.Errorf("%w: cannot terminate agreement in status %s", models.ErrAgreementState, a.Status)
		}
		a.Status = models.StatusTerminated
		audit(a, "terminated", map[string]interface{}{"reason": reason})
		return nil
	})
	return err
}

// Expire marks an active agreement expired.
func (e *Engine) Expire(agreementID string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status != models.StatusActive {
			return fmt.Errorf("%w: cannot expire agreement in status %s", models.ErrAgreementState, a.Status)
		}
		a.Status = models.StatusExpired
		audit(a, "expired", nil)
		return nil
	})
	return err
}

// CheckAgreementValidity reports whether an agreement authorises access to a
// resource. A past-due active agreement is transitioned to expired here.
func (e *Engine) CheckAgreementValidity(agreementID, resourceID string) ValidityResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.load(agreementID)
	if err != nil {
		return ValidityResult{Valid: false, Reason: "Agreement not found"}
	}
	if a.ResourceID != resourceID {
		return ValidityResult{Valid: false, Reason: "Resource mismatch"}
	}
	if a.Status == models.StatusActive && a.IsExpired(time.Now().UTC()) {
		a.Status = models.StatusExpired
		audit(a, "expired", nil)
		if err := e.save(a); err != nil {
			e.log.Errorf("Failed to persist expiry of agreement %s: %v", agreementID, err)
		}
		return ValidityResult{Valid: false, Reason: "Agreement expired"}
	}
	if a.Status != models.StatusActive {
		return ValidityResult{Valid: false, Reason: fmt.Sprintf("Agreement not active (status: %s)", a.Status)}
	}
	return ValidityResult{
		Valid:         true,
		AgreementType: a.AgreementType,
		ConsumerID:    a.ConsumerID,
		ProviderID:    a.ProviderID,
	}
}

// RecordUsage accumulates usage against an agreement. Exceeding a declared
// limit yields a warning but the usage is still recorded; enforcement is the
// executor's job.
func (e *Engine) RecordUsage(agreementID, metric string, quantity float64) (UsageResult, error) {
	if quantity <= 0 {
		return UsageResult{}, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}

	var result UsageResult
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Status != models.StatusActive {
			return fmt.Errorf("%w: agreement not active (status: %s)", models.ErrAgreementState, a.Status)
		}
		if a.CurrentUsage == nil {
			a.CurrentUsage = make(map[string]float64)
		}
		a.CurrentUsage[metric] += quantity
		audit(a, "usage_recorded", map[string]interface{}{"metric": metric, "quantity": quantity})

		result = UsageResult{Success: true, Usage: a.CurrentUsage[metric]}
		if limit, ok := a.UsageLimits[metric]; ok && a.CurrentUsage[metric] > limit {
			result.Warning = "Usage exceeds agreement limits"
			result.Limit = limit
		}
		return nil
	})
	if err != nil {
		return UsageResult{}, err
	}
	return result, nil
}

// UsageStatus reports every declared metric against its limit.
func (e *Engine) UsageStatus(agreementID string) (map[string]MetricStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.load(agreementID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]MetricStatus, len(a.UsageLimits))
	for metric, limit := range a.UsageLimits {
		current := a.CurrentUsage[metric]
		out[metric] = MetricStatus{
			CurrentUsage: current,
			Limit:        limit,
			LimitReached: current >= limit,
		}
	}
	return out, nil
}

// SetMetadata stamps one metadata key on the agreement.
func (e *Engine) SetMetadata(agreementID, key, value string) error {
	_, err := e.mutate(agreementID, func(a *models.Agreement) error {
		if a.Metadata == nil {
			a.Metadata = make(map[string]string)
		}
		a.Metadata[key] = value
		return nil
	})
	return err
}

// ListAgreements returns the ids of stored agreements, optionally filtered
// by status. The empty status matches everything.
func (e *Engine) ListAgreements(status string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list agreements: %v", models.ErrStorage, err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if status != "" {
			a, err := e.load(id)
			if err != nil || a.Status != status {
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// Archive moves an agreement out of the active directory into archives/.
func (e *Engine) Archive(agreementID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, err := e.load(agreementID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode agreement: %v", models.ErrStorage, err)
	}
	archivePath := filepath.Join(e.dir, archiveDir, agreementID+".json")
	if err := os.WriteFile(archivePath, raw, 0o644); err != nil {
		return fmt.Errorf("%w: archive agreement: %v", models.ErrStorage, err)
	}
	if err := os.Remove(e.path(agreementID)); err != nil {
		return fmt.Errorf("%w: remove active agreement: %v", models.ErrStorage, err)
	}
	e.log.Infof("Archived agreement %s", agreementID)
	return nil
}
