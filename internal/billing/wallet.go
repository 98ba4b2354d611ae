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

// Ledger manages wallets and their transaction log. Every balance change is
// one atomic unit of work: read balance, write new balance, append the
// transaction row, all or nothing.
type Ledger struct {
	store Store
	log   *logrus.Entry
}

// NewLedger creates a wallet ledger over a billing store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		log:   logrus.WithField("component", "wallet"),
	}
}

// CreateWallet creates a wallet for the user, or returns the existing one.
func (l *Ledger) CreateWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", models.ErrValidation)
	}

	var wallet *models.Wallet
	err := l.store.InTx(ctx, func(tx StoreTx) error {
		existing, err := tx.GetWalletByUser(ctx, userID)
		if err == nil {
			wallet = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		wallet = &models.Wallet{
			WalletID:  uuid.New().String(),
			UserID:    userID,
			Balance:   0,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.InsertWallet(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// GetWallet returns a wallet by id.
func (l *Ledger) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := l.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		wallet, err = tx.GetWallet(ctx, walletID)
		return err
	})
	return wallet, err
}

// GetWalletByUser returns the user's wallet.
func (l *Ledger) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := l.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		wallet, err = tx.GetWalletByUser(ctx, userID)
		return err
	})
	return wallet, err
}

// Deposit credits a wallet and appends the transaction row.
func (l *Ledger) Deposit(ctx context.Context, walletID string, amount float64, referenceID, description string) (*models.WalletTransaction, error) {
	return l.apply(ctx, walletID, amount, models.TxDeposit, referenceID, description)
}

// Withdraw debits a wallet. A withdrawal that would push the balance below
// zero is rejected and nothing is written.
func (l *Ledger) Withdraw(ctx context.Context, walletID string, amount float64, referenceID, description string) (*models.WalletTransaction, error) {
	return l.apply(ctx, walletID, -amount, models.TxWithdraw, referenceID, description)
}

func (l *Ledger) apply(ctx context.Context, walletID string, delta float64, txType, referenceID, description string) (*models.WalletTransaction, error) {
	if delta == 0 || (txType == models.TxDeposit && delta < 0) || (txType == models.TxWithdraw && delta > 0) {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}

	var txn *models.WalletTransaction
	err := l.store.InTx(ctx, func(tx StoreTx) error {
		wallet, err := tx.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}

		balance := wallet.Balance + delta
		if balance < 0 {
			return fmt.Errorf("%w: insufficient balance %.4f for withdrawal of %.4f",
				models.ErrValidation, wallet.Balance, -delta)
		}

		now := time.Now().UTC()
		if err := tx.UpdateWalletBalance(ctx, walletID, balance, now); err != nil {
			return err
		}
		txn = &models.WalletTransaction{
			TransactionID: uuid.New().String(),
			WalletID:      walletID,
			Amount:        delta,
			Type:          txType,
			Status:        "completed",
			ReferenceID:   referenceID,
			Description:   description,
			CreatedAt:     now,
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	l.log.Infof("Applied %s of %.4f to wallet %s", txType, delta, walletID)
	return txn, nil
}

// Transactions returns the wallet's most recent transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, walletID string, limit int) ([]*models.WalletTransaction, error) {
	var out []*models.WalletTransaction
	err := l.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		out, err = tx.ListTransactions(ctx, walletID, limit)
		return err
	})
	return out, err
}
