package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// Default revenue split when no configuration matches.
const (
	defaultPlatformShare  = 10.0
	defaultDeveloperShare = 70.0
	defaultProviderShare  = 20.0

	shareSumTolerance = 0.01
)

// Splitter allocates payments between platform, developer and provider.
type Splitter struct {
	store Store
	log   *logrus.Entry
}

// NewSplitter creates a revenue splitter over a billing store.
func NewSplitter(store Store) *Splitter {
	return &Splitter{
		store: store,
		log:   logrus.WithField("component", "revenue"),
	}
}

// SetShareConfiguration stores a split for a resource type, or for one
// specific resource when resourceID is set. Shares must sum to 100.
func (s *Splitter) SetShareConfiguration(ctx context.Context, resourceType string, platform, developer, provider float64, resourceID string) error {
	if math.Abs(platform+developer+provider-100.0) > shareSumTolerance {
		return fmt.Errorf("%w: shares must sum to 100, got %.4f",
			models.ErrValidation, platform+developer+provider)
	}
	cfg := &models.RevenueShareConfig{
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		PlatformShare:  platform,
		DeveloperShare: developer,
		ProviderShare:  provider,
	}
	return s.store.InTx(ctx, func(tx StoreTx) error {
		return tx.UpsertShareConfig(ctx, cfg)
	})
}

// GetShareConfiguration resolves the split for a resource: resource-specific
// overrides type-wide, which overrides the 10/70/20 default.
func (s *Splitter) GetShareConfiguration(ctx context.Context, resourceType, resourceID string) (*models.RevenueShareConfig, error) {
	var cfg *models.RevenueShareConfig
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		cfg, err = tx.GetShareConfig(ctx, resourceType, resourceID)
		if errors.Is(err, models.ErrNotFound) {
			cfg = &models.RevenueShareConfig{
				ResourceType:   resourceType,
				PlatformShare:  defaultPlatformShare,
				DeveloperShare: defaultDeveloperShare,
				ProviderShare:  defaultProviderShare,
			}
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// DistributeRevenue records a pending distribution with per-party amounts
// computed from the resolved share configuration.
func (s *Splitter) DistributeRevenue(ctx context.Context, transactionID, resourceID, resourceType string, amount float64, platformID, developerID, providerID string) (*models.RevenueDistribution, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}

	cfg, err := s.GetShareConfiguration(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}

	dist := &models.RevenueDistribution{
		DistributionID:  uuid.New().String(),
		TransactionID:   transactionID,
		ResourceID:      resourceID,
		ResourceType:    resourceType,
		TotalAmount:     amount,
		PlatformAmount:  amount * cfg.PlatformShare / 100.0,
		DeveloperAmount: amount * cfg.DeveloperShare / 100.0,
		ProviderAmount:  amount * cfg.ProviderShare / 100.0,
		PlatformID:      platformID,
		DeveloperID:     developerID,
		ProviderID:      providerID,
		Status:          models.DistributionPending,
		CreatedAt:       time.Now().UTC(),
	}
	err = s.store.InTx(ctx, func(tx StoreTx) error {
		return tx.InsertDistribution(ctx, dist)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Recorded distribution %s of %.4f for resource %s", dist.DistributionID, amount, resourceID)
	return dist, nil
}

// ProcessDistribution deposits each party's amount into their wallet and
// marks the distribution completed. Completed distributions are left alone,
// so replays are safe.
func (s *Splitter) ProcessDistribution(ctx context.Context, distributionID string, ledger *Ledger) error {
	var dist *models.RevenueDistribution
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		dist, err = tx.GetDistribution(ctx, distributionID)
		return err
	})
	if err != nil {
		return err
	}
	if dist.Status == models.DistributionCompleted {
		return nil
	}

	recipients := []struct {
		userID string
		amount float64
		role   string
	}{
		{dist.PlatformID, dist.PlatformAmount, "platform"},
		{dist.DeveloperID, dist.DeveloperAmount, "developer"},
		{dist.ProviderID, dist.ProviderAmount, "provider"},
	}
	for _, r := range recipients {
		if r.userID == "" || r.amount <= 0 {
			continue
		}
		wallet, err := ledger.CreateWallet(ctx, r.userID)
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("Revenue share (%s) for resource %s", r.role, dist.ResourceID)
		if _, err := ledger.Deposit(ctx, wallet.WalletID, r.amount, distributionID, desc); err != nil {
			return err
		}
	}

	return s.store.InTx(ctx, func(tx StoreTx) error {
		return tx.SetDistributionStatus(ctx, distributionID, models.DistributionCompleted)
	})
}

// UserEarnings sums a user's completed distributions across all roles.
func (s *Splitter) UserEarnings(ctx context.Context, userID string, recentLimit int) (*models.Earnings, error) {
	earnings := &models.Earnings{UserID: userID}
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		dists, err := tx.ListDistributionsByRecipient(ctx, userID, 0)
		if err != nil {
			return err
		}
		for _, d := range dists {
			if d.Status != models.DistributionCompleted {
				continue
			}
			if d.PlatformID == userID {
				earnings.PlatformEarnings += d.PlatformAmount
			}
			if d.DeveloperID == userID {
				earnings.DeveloperEarnings += d.DeveloperAmount
			}
			if d.ProviderID == userID {
				earnings.ProviderEarnings += d.ProviderAmount
			}
			if recentLimit <= 0 || len(earnings.RecentDistributions) < recentLimit {
				earnings.RecentDistributions = append(earnings.RecentDistributions, *d)
			}
		}
		earnings.TotalEarnings = earnings.PlatformEarnings + earnings.DeveloperEarnings + earnings.ProviderEarnings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return earnings, nil
}
