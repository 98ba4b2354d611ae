package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// MemStore is an in-memory Store for tests and database-less deployments.
// InTx snapshots the whole state up front and restores it when the callback
// fails, giving the same all-or-nothing semantics as a database transaction.
type MemStore struct {
	mu            sync.Mutex
	wallets       map[string]*models.Wallet
	walletByUser  map[string]string
	transactions  []*models.WalletTransaction
	usage         []*models.UsageRecord
	pricing       []*models.PricingTier
	cycles        map[string]*models.BillingCycle
	shareConfigs  map[string]*models.RevenueShareConfig
	distributions map[string]*models.RevenueDistribution
}

// NewMemStore creates an empty in-memory billing store.
func NewMemStore() *MemStore {
	return &MemStore{
		wallets:       make(map[string]*models.Wallet),
		walletByUser:  make(map[string]string),
		cycles:        make(map[string]*models.BillingCycle),
		shareConfigs:  make(map[string]*models.RevenueShareConfig),
		distributions: make(map[string]*models.RevenueDistribution),
	}
}

type memSnapshot struct {
	wallets       map[string]*models.Wallet
	walletByUser  map[string]string
	transactions  []*models.WalletTransaction
	usage         []*models.UsageRecord
	pricing       []*models.PricingTier
	cycles        map[string]*models.BillingCycle
	shareConfigs  map[string]*models.RevenueShareConfig
	distributions map[string]*models.RevenueDistribution
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		wallets:       make(map[string]*models.Wallet, len(s.wallets)),
		walletByUser:  make(map[string]string, len(s.walletByUser)),
		transactions:  append([]*models.WalletTransaction(nil), s.transactions...),
		usage:         make([]*models.UsageRecord, len(s.usage)),
		pricing:       append([]*models.PricingTier(nil), s.pricing...),
		cycles:        make(map[string]*models.BillingCycle, len(s.cycles)),
		shareConfigs:  make(map[string]*models.RevenueShareConfig, len(s.shareConfigs)),
		distributions: make(map[string]*models.RevenueDistribution, len(s.distributions)),
	}
	for id, w := range s.wallets {
		cp := *w
		snap.wallets[id] = &cp
	}
	for u, id := range s.walletByUser {
		snap.walletByUser[u] = id
	}
	for i, r := range s.usage {
		cp := *r
		snap.usage[i] = &cp
	}
	for id, c := range s.cycles {
		cp := *c
		snap.cycles[id] = &cp
	}
	for k, cfg := range s.shareConfigs {
		cp := *cfg
		snap.shareConfigs[k] = &cp
	}
	for id, d := range s.distributions {
		cp := *d
		snap.distributions[id] = &cp
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.wallets = snap.wallets
	s.walletByUser = snap.walletByUser
	s.transactions = snap.transactions
	s.usage = snap.usage
	s.pricing = snap.pricing
	s.cycles = snap.cycles
	s.shareConfigs = snap.shareConfigs
	s.distributions = snap.distributions
}

// InTx runs the callback under the store lock and rolls back on error.
func (s *MemStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx mutates the live store directly; rollback is handled by InTx.
type memTx struct {
	store *MemStore
}

func shareKey(resourceType, resourceID string) string {
	return resourceType + "|" + resourceID
}

func (t *memTx) GetWallet(_ context.Context, walletID string) (*models.Wallet, error) {
	w, ok := t.store.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) GetWalletByUser(_ context.Context, userID string) (*models.Wallet, error) {
	id, ok := t.store.walletByUser[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet for user %s", models.ErrNotFound, userID)
	}
	cp := *t.store.wallets[id]
	return &cp, nil
}

func (t *memTx) InsertWallet(_ context.Context, w *models.Wallet) error {
	if _, exists := t.store.walletByUser[w.UserID]; exists {
		return fmt.Errorf("%w: user %s already has a wallet", models.ErrValidation, w.UserID)
	}
	cp := *w
	t.store.wallets[w.WalletID] = &cp
	t.store.walletByUser[w.UserID] = w.WalletID
	return nil
}

func (t *memTx) UpdateWalletBalance(_ context.Context, walletID string, balance float64, updatedAt time.Time) error {
	w, ok := t.store.wallets[walletID]
	if !ok {
		return fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	w.Balance = balance
	w.UpdatedAt = updatedAt
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx *models.WalletTransaction) error {
	cp := *tx
	t.store.transactions = append(t.store.transactions, &cp)
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, walletID string, limit int) ([]*models.WalletTransaction, error) {
	var out []*models.WalletTransaction
	for i := len(t.store.transactions) - 1; i >= 0; i-- {
		tx := t.store.transactions[i]
		if tx.WalletID != walletID {
			continue
		}
		cp := *tx
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) InsertUsageRecord(_ context.Context, r *models.UsageRecord) error {
	cp := *r
	t.store.usage = append(t.store.usage, &cp)
	return nil
}

func (t *memTx) ListUsageRecords(_ context.Context, userID string, start, end time.Time) ([]*models.UsageRecord, error) {
	var out []*models.UsageRecord
	for _, r := range t.store.usage {
		if r.UserID != userID || r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (t *memTx) MarkUsageBilled(_ context.Context, userID string, start, end time.Time) (int, error) {
	marked := 0
	for _, r := range t.store.usage {
		if r.UserID == userID && !r.Billed && !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			r.Billed = true
			marked++
		}
	}
	return marked, nil
}

func (t *memTx) InsertPricingTier(_ context.Context, tier *models.PricingTier) error {
	cp := *tier
	t.store.pricing = append(t.store.pricing, &cp)
	return nil
}

func (t *memTx) LatestPricingTier(_ context.Context, usageType string) (*models.PricingTier, error) {
	var latest *models.PricingTier
	for _, tier := range t.store.pricing {
		if tier.UsageType != usageType {
			continue
		}
		if latest == nil || tier.EffectiveDate.After(latest.EffectiveDate) {
			latest = tier
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: pricing for %s", models.ErrNotFound, usageType)
	}
	cp := *latest
	return &cp, nil
}

func (t *memTx) ListPricedUsageTypes(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, tier := range t.store.pricing {
		if !seen[tier.UsageType] {
			seen[tier.UsageType] = true
			out = append(out, tier.UsageType)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) GetActiveBillingCycle(_ context.Context, userID string) (*models.BillingCycle, error) {
	for _, c := range t.store.cycles {
		if c.UserID == userID && c.Status == models.CycleActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: active cycle for user %s", models.ErrNotFound, userID)
}

func (t *memTx) GetBillingCycle(_ context.Context, cycleID string) (*models.BillingCycle, error) {
	c, ok := t.store.cycles[cycleID]
	if !ok {
		return nil, fmt.Errorf("%w: cycle %s", models.ErrNotFound, cycleID)
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) InsertBillingCycle(_ context.Context, c *models.BillingCycle) error {
	cp := *c
	t.store.cycles[c.CycleID] = &cp
	return nil
}

func (t *memTx) CloseBillingCycle(_ context.Context, cycleID, invoiceID string) error {
	c, ok := t.store.cycles[cycleID]
	if !ok {
		return fmt.Errorf("%w: cycle %s", models.ErrNotFound, cycleID)
	}
	c.Status = models.CycleClosed
	c.InvoiceID = invoiceID
	return nil
}

func (t *memTx) UpsertShareConfig(_ context.Context, cfg *models.RevenueShareConfig) error {
	cp := *cfg
	t.store.shareConfigs[shareKey(cfg.ResourceType, cfg.ResourceID)] = &cp
	return nil
}

func (t *memTx) GetShareConfig(_ context.Context, resourceType, resourceID string) (*models.RevenueShareConfig, error) {
	if resourceID != "" {
		if cfg, ok := t.store.shareConfigs[shareKey(resourceType, resourceID)]; ok {
			cp := *cfg
			return &cp, nil
		}
	}
	if cfg, ok := t.store.shareConfigs[shareKey(resourceType, "")]; ok {
		cp := *cfg
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: share config for %s", models.ErrNotFound, resourceType)
}

func (t *memTx) InsertDistribution(_ context.Context, d *models.RevenueDistribution) error {
	cp := *d
	t.store.distributions[d.DistributionID] = &cp
	return nil
}

func (t *memTx) GetDistribution(_ context.Context, distributionID string) (*models.RevenueDistribution, error) {
	d, ok := t.store.distributions[distributionID]
	if !ok {
		return nil, fmt.Errorf("%w: distribution %s", models.ErrNotFound, distributionID)
	}
	cp := *d
	return &cp, nil
}

func (t *memTx) SetDistributionStatus(_ context.Context, distributionID, status string) error {
	d, ok := t.store.distributions[distributionID]
	if !ok {
		return fmt.Errorf("%w: distribution %s", models.ErrNotFound, distributionID)
	}
	d.Status = status
	return nil
}

func (t *memTx) ListDistributionsByRecipient(_ context.Context, userID string, limit int) ([]*models.RevenueDistribution, error) {
	var out []*models.RevenueDistribution
	for _, d := range t.store.distributions {
		if d.PlatformID == userID || d.DeveloperID == userID || d.ProviderID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
