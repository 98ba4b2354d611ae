package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// PlatformUserID owns the platform's share of every distribution.
const PlatformUserID = "platform"

// System ties the wallet ledger, usage tracker and revenue splitter into the
// marketplace billing flows.
type System struct {
	Ledger  *Ledger
	Tracker *Tracker
	Revenue *Splitter

	mu       sync.Mutex
	invoices map[string]*models.Invoice
	log      *logrus.Entry
}

// NewSystem builds a billing system over a shared store.
func NewSystem(store Store) *System {
	return &System{
		Ledger:   NewLedger(store),
		Tracker:  NewTracker(store),
		Revenue:  NewSplitter(store),
		invoices: make(map[string]*models.Invoice),
		log:      logrus.WithField("component", "billing"),
	}
}

// RegisterUser creates the user's wallet and opens their first billing cycle.
func (s *System) RegisterUser(ctx context.Context, userID string) (*models.Wallet, *models.BillingCycle, error) {
	wallet, err := s.Ledger.CreateWallet(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	cycle, err := s.Tracker.StartBillingCycle(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return wallet, cycle, nil
}

// ProcessAgentPurchase charges the buyer and splits the proceeds. The buyer
// is refunded if the distribution cannot be recorded or processed.
func (s *System) ProcessAgentPurchase(ctx context.Context, buyerID, developerID, providerID, resourceID, resourceType string, amount float64) (*models.RevenueDistribution, error) {
	buyerWallet, err := s.Ledger.GetWalletByUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	withdrawal, err := s.Ledger.Withdraw(ctx, buyerWallet.WalletID, amount,
		"", fmt.Sprintf("Purchase of %s %s", resourceType, resourceID))
	if err != nil {
		return nil, err
	}

	refund := func(reason string) {
		if _, err := s.Ledger.Deposit(ctx, buyerWallet.WalletID, amount,
			withdrawal.TransactionID, fmt.Sprintf("Refund for failed purchase of %s", resourceID)); err != nil {
			s.log.Errorf("Refund to buyer %s failed after %s: %v", buyerID, reason, err)
		}
	}

	dist, err := s.Revenue.DistributeRevenue(ctx, withdrawal.TransactionID,
		resourceID, resourceType, amount, PlatformUserID, developerID, providerID)
	if err != nil {
		refund("distribution failure")
		return nil, err
	}

	if err := s.Revenue.ProcessDistribution(ctx, dist.DistributionID, s.Ledger); err != nil {
		refund("distribution processing failure")
		return nil, err
	}

	s.log.Infof("Processed purchase of %s by %s for %.4f", resourceID, buyerID, amount)
	dist.Status = models.DistributionCompleted
	return dist, nil
}

// GenerateInvoice closes the user's active billing cycle into an invoice and
// opens the next cycle.
func (s *System) GenerateInvoice(ctx context.Context, userID string) (*models.Invoice, error) {
	cycle, err := s.Tracker.ActiveBillingCycle(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, summary, err := s.Tracker.CalculateUsageCost(ctx, userID, cycle.StartDate, cycle.EndDate)
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		InvoiceID:    uuid.New().String(),
		UserID:       userID,
		CycleID:      cycle.CycleID,
		StartDate:    cycle.StartDate,
		EndDate:      cycle.EndDate,
		TotalCost:    total,
		UsageSummary: summary,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.Tracker.CloseBillingCycle(ctx, cycle.CycleID, invoice.InvoiceID); err != nil {
		return nil, err
	}

	newCycle, err := s.Tracker.StartBillingCycle(ctx, userID)
	if err != nil {
		return nil, err
	}
	invoice.NewCycleID = newCycle.CycleID

	s.mu.Lock()
	s.invoices[invoice.InvoiceID] = invoice
	s.mu.Unlock()

	s.log.Infof("Generated invoice %s for user %s, total %.4f", invoice.InvoiceID, userID, total)
	return invoice, nil
}

// GetInvoice returns a previously generated invoice.
func (s *System) GetInvoice(invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", models.ErrNotFound, invoiceID)
	}
	cp := *inv
	return &cp, nil
}

// PayInvoice settles an invoice from the user's wallet into the platform
// wallet.
func (s *System) PayInvoice(ctx context.Context, invoiceID string) (*models.WalletTransaction, error) {
	invoice, err := s.GetInvoice(invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.TotalCost <= 0 {
		return nil, nil
	}

	wallet, err := s.Ledger.GetWalletByUser(ctx, invoice.UserID)
	if err != nil {
		return nil, err
	}

	withdrawal, err := s.Ledger.Withdraw(ctx, wallet.WalletID, invoice.TotalCost,
		invoiceID, fmt.Sprintf("Payment for invoice %s", invoiceID))
	if err != nil {
		return nil, err
	}

	platformWallet, err := s.Ledger.CreateWallet(ctx, PlatformUserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Ledger.Deposit(ctx, platformWallet.WalletID, invoice.TotalCost,
		invoiceID, fmt.Sprintf("Invoice %s paid by user %s", invoiceID, invoice.UserID)); err != nil {
		return nil, err
	}

	return withdrawal, nil
}
