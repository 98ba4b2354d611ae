package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside runtime images that do not ship the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore backs the billing store and the trace persister with a
// shared pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log := logrus.WithField("component", "db")
	log.Info("Successfully connected to PostgreSQL")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	s.log.Info("Schema initialized")
	return nil
}

// InTx runs a billing unit of work inside one database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx billing.StoreTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrStorage, err)
	}
	return nil
}

// SaveMemoryNode persists one trace node.
func (s *PostgresStore) SaveMemoryNode(ctx context.Context, agentID string, node *models.MemoryNode) error {
	meta, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", models.ErrStorage, err)
	}
	sql := `
		INSERT INTO memory_nodes (node_id, agent_id, content, node_type, metadata, parent_id, node_hash, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (node_id) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, sql, node.NodeID, agentID, node.Content, node.NodeType,
		meta, node.ParentID, node.Hash, node.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: save node: %v", models.ErrStorage, err)
	}
	return nil
}

// LoadMemoryNodes reloads every persisted trace node grouped by agent.
func (s *PostgresStore) LoadMemoryNodes(ctx context.Context) (map[string][]*models.MemoryNode, error) {
	sql := `
		SELECT node_id, agent_id, content, node_type, COALESCE(metadata, 'null'::jsonb), COALESCE(parent_id, ''), node_hash, recorded_at
		FROM memory_nodes ORDER BY recorded_at;
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("%w: load nodes: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	out := make(map[string][]*models.MemoryNode)
	for rows.Next() {
		var (
			node    models.MemoryNode
			agentID string
			meta    []byte
		)
		if err := rows.Scan(&node.NodeID, &agentID, &node.Content, &node.NodeType,
			&meta, &node.ParentID, &node.Hash, &node.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan node: %v", models.ErrStorage, err)
		}
		if err := json.Unmarshal(meta, &node.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decode metadata: %v", models.ErrStorage, err)
		}
		out[agentID] = append(out[agentID], &node)
	}
	return out, rows.Err()
}

// pgTx adapts one pgx transaction to the billing StoreTx contract.
type pgTx struct {
	tx pgx.Tx
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrStorage, what, err)
}

func (t *pgTx) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	sql := `SELECT wallet_id, user_id, balance, created_at, updated_at FROM wallets WHERE wallet_id = $1;`
	var w models.Wallet
	err := t.tx.QueryRow(ctx, sql, walletID).Scan(&w.WalletID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "wallet "+walletID)
	}
	return &w, nil
}

func (t *pgTx) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	sql := `SELECT wallet_id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = $1;`
	var w models.Wallet
	err := t.tx.QueryRow(ctx, sql, userID).Scan(&w.WalletID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "wallet for user "+userID)
	}
	return &w, nil
}

func (t *pgTx) InsertWallet(ctx context.Context, w *models.Wallet) error {
	sql := `INSERT INTO wallets (wallet_id, user_id, balance, created_at, updated_at) VALUES ($1, $2, $3, $4, $5);`
	_, err := t.tx.Exec(ctx, sql, w.WalletID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert wallet: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, walletID string, balance float64, updatedAt time.Time) error {
	sql := `UPDATE wallets SET balance = $2, updated_at = $3 WHERE wallet_id = $1;`
	tag, err := t.tx.Exec(ctx, sql, walletID, balance, updatedAt)
	if err != nil {
		return fmt.Errorf("%w: update balance: %v", models.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s", models.ErrNotFound, walletID)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	sql := `
		INSERT INTO wallet_transactions (transaction_id, wallet_id, amount, tx_type, status, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8);
	`
	_, err := t.tx.Exec(ctx, sql, tx.TransactionID, tx.WalletID, tx.Amount, tx.Type,
		tx.Status, tx.ReferenceID, tx.Description, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert transaction: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) ListTransactions(ctx context.Context, walletID string, limit int) ([]*models.WalletTransaction, error) {
	sql := `
		SELECT transaction_id, wallet_id, amount, tx_type, status, COALESCE(reference_id, ''), COALESCE(description, ''), created_at
		FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC`
	args := []interface{}{walletID}
	if limit > 0 {
		sql += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := t.tx.Query(ctx, sql+";", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.WalletTransaction
	for rows.Next() {
		var txn models.WalletTransaction
		if err := rows.Scan(&txn.TransactionID, &txn.WalletID, &txn.Amount, &txn.Type,
			&txn.Status, &txn.ReferenceID, &txn.Description, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", models.ErrStorage, err)
		}
		out = append(out, &txn)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertUsageRecord(ctx context.Context, r *models.UsageRecord) error {
	sql := `
		INSERT INTO usage_records (record_id, agent_id, user_id, usage_type, quantity, unit, recorded_at, billed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := t.tx.Exec(ctx, sql, r.RecordID, r.AgentID, r.UserID, r.UsageType, r.Quantity, r.Unit, r.Timestamp, r.Billed)
	if err != nil {
		return fmt.Errorf("%w: insert usage record: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) ListUsageRecords(ctx context.Context, userID string, start, end time.Time) ([]*models.UsageRecord, error) {
	sql := `
		SELECT record_id, agent_id, user_id, usage_type, quantity, unit, recorded_at, billed
		FROM usage_records WHERE user_id = $1 AND recorded_at BETWEEN $2 AND $3 ORDER BY recorded_at;
	`
	rows, err := t.tx.Query(ctx, sql, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: list usage: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.RecordID, &r.AgentID, &r.UserID, &r.UsageType,
			&r.Quantity, &r.Unit, &r.Timestamp, &r.Billed); err != nil {
			return nil, fmt.Errorf("%w: scan usage record: %v", models.ErrStorage, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkUsageBilled(ctx context.Context, userID string, start, end time.Time) (int, error) {
	sql := `
		UPDATE usage_records SET billed = TRUE
		WHERE user_id = $1 AND billed = FALSE AND recorded_at BETWEEN $2 AND $3;
	`
	tag, err := t.tx.Exec(ctx, sql, userID, start, end)
	if err != nil {
		return 0, fmt.Errorf("%w: mark billed: %v", models.ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertPricingTier(ctx context.Context, tier *models.PricingTier) error {
	sql := `
		INSERT INTO pricing_tiers (usage_type, price_per_unit, tier_start, tier_end, effective_date)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := t.tx.Exec(ctx, sql, tier.UsageType, tier.PricePerUnit, tier.TierStart, tier.TierEnd, tier.EffectiveDate)
	if err != nil {
		return fmt.Errorf("%w: insert pricing tier: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) LatestPricingTier(ctx context.Context, usageType string) (*models.PricingTier, error) {
	sql := `
		SELECT usage_type, price_per_unit, tier_start, tier_end, effective_date
		FROM pricing_tiers WHERE usage_type = $1 ORDER BY effective_date DESC LIMIT 1;
	`
	var tier models.PricingTier
	err := t.tx.QueryRow(ctx, sql, usageType).Scan(&tier.UsageType, &tier.PricePerUnit,
		&tier.TierStart, &tier.TierEnd, &tier.EffectiveDate)
	if err != nil {
		return nil, notFoundOr(err, "pricing for "+usageType)
	}
	return &tier, nil
}

func (t *pgTx) ListPricedUsageTypes(ctx context.Context) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT DISTINCT usage_type FROM pricing_tiers ORDER BY usage_type;`)
	if err != nil {
		return nil, fmt.Errorf("%w: list usage types: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var usageType string
		if err := rows.Scan(&usageType); err != nil {
			return nil, fmt.Errorf("%w: scan usage type: %v", models.ErrStorage, err)
		}
		out = append(out, usageType)
	}
	return out, rows.Err()
}

func (t *pgTx) GetActiveBillingCycle(ctx context.Context, userID string) (*models.BillingCycle, error) {
	sql := `
		SELECT cycle_id, user_id, start_date, end_date, status, COALESCE(invoice_id, '')
		FROM billing_cycles WHERE user_id = $1 AND status = 'active';
	`
	var c models.BillingCycle
	err := t.tx.QueryRow(ctx, sql, userID).Scan(&c.CycleID, &c.UserID, &c.StartDate, &c.EndDate, &c.Status, &c.InvoiceID)
	if err != nil {
		return nil, notFoundOr(err, "active cycle for user "+userID)
	}
	return &c, nil
}

func (t *pgTx) GetBillingCycle(ctx context.Context, cycleID string) (*models.BillingCycle, error) {
	sql := `
		SELECT cycle_id, user_id, start_date, end_date, status, COALESCE(invoice_id, '')
		FROM billing_cycles WHERE cycle_id = $1;
	`
	var c models.BillingCycle
	err := t.tx.QueryRow(ctx, sql, cycleID).Scan(&c.CycleID, &c.UserID, &c.StartDate, &c.EndDate, &c.Status, &c.InvoiceID)
	if err != nil {
		return nil, notFoundOr(err, "cycle "+cycleID)
	}
	return &c, nil
}

func (t *pgTx) InsertBillingCycle(ctx context.Context, c *models.BillingCycle) error {
	sql := `
		INSERT INTO billing_cycles (cycle_id, user_id, start_date, end_date, status, invoice_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''));
	`
	_, err := t.tx.Exec(ctx, sql, c.CycleID, c.UserID, c.StartDate, c.EndDate, c.Status, c.InvoiceID)
	if err != nil {
		return fmt.Errorf("%w: insert cycle: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) CloseBillingCycle(ctx context.Context, cycleID, invoiceID string) error {
	sql := `UPDATE billing_cycles SET status = 'closed', invoice_id = $2 WHERE cycle_id = $1;`
	tag, err := t.tx.Exec(ctx, sql, cycleID, invoiceID)
	if err != nil {
		return fmt.Errorf("%w: close cycle: %v", models.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cycle %s", models.ErrNotFound, cycleID)
	}
	return nil
}

func (t *pgTx) UpsertShareConfig(ctx context.Context, cfg *models.RevenueShareConfig) error {
	sql := `
		INSERT INTO share_configurations (resource_type, resource_id, platform_share, developer_share, provider_share, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (resource_type, resource_id) DO UPDATE
		SET platform_share = EXCLUDED.platform_share,
		    developer_share = EXCLUDED.developer_share,
		    provider_share = EXCLUDED.provider_share,
		    updated_at = NOW();
	`
	_, err := t.tx.Exec(ctx, sql, cfg.ResourceType, cfg.ResourceID, cfg.PlatformShare, cfg.DeveloperShare, cfg.ProviderShare)
	if err != nil {
		return fmt.Errorf("%w: upsert share config: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) GetShareConfig(ctx context.Context, resourceType, resourceID string) (*models.RevenueShareConfig, error) {
	// resource_id sorts after '', so a resource-specific row wins.
	sql := `
		SELECT resource_type, resource_id, platform_share, developer_share, provider_share
		FROM share_configurations
		WHERE resource_type = $1 AND resource_id IN ($2, '')
		ORDER BY resource_id DESC LIMIT 1;
	`
	var cfg models.RevenueShareConfig
	err := t.tx.QueryRow(ctx, sql, resourceType, resourceID).Scan(&cfg.ResourceType, &cfg.ResourceID,
		&cfg.PlatformShare, &cfg.DeveloperShare, &cfg.ProviderShare)
	if err != nil {
		return nil, notFoundOr(err, "share config for "+resourceType)
	}
	return &cfg, nil
}

func (t *pgTx) InsertDistribution(ctx context.Context, d *models.RevenueDistribution) error {
	sql := `
		INSERT INTO revenue_distributions
		(distribution_id, transaction_id, resource_id, resource_type, total_amount,
		 platform_amount, developer_amount, provider_amount, platform_id, developer_id, provider_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13);
	`
	_, err := t.tx.Exec(ctx, sql, d.DistributionID, d.TransactionID, d.ResourceID, d.ResourceType,
		d.TotalAmount, d.PlatformAmount, d.DeveloperAmount, d.ProviderAmount,
		d.PlatformID, d.DeveloperID, d.ProviderID, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert distribution: %v", models.ErrStorage, err)
	}
	return nil
}

func (t *pgTx) GetDistribution(ctx context.Context, distributionID string) (*models.RevenueDistribution, error) {
	sql := `
		SELECT distribution_id, transaction_id, resource_id, resource_type, total_amount,
		       platform_amount, developer_amount, provider_amount, platform_id, developer_id,
		       COALESCE(provider_id, ''), status, created_at
		FROM revenue_distributions WHERE distribution_id = $1;
	`
	var d models.RevenueDistribution
	err := t.tx.QueryRow(ctx, sql, distributionID).Scan(&d.DistributionID, &d.TransactionID,
		&d.ResourceID, &d.ResourceType, &d.TotalAmount, &d.PlatformAmount, &d.DeveloperAmount,
		&d.ProviderAmount, &d.PlatformID, &d.DeveloperID, &d.ProviderID, &d.Status, &d.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "distribution "+distributionID)
	}
	return &d, nil
}

func (t *pgTx) SetDistributionStatus(ctx context.Context, distributionID, status string) error {
	sql := `UPDATE revenue_distributions SET status = $2 WHERE distribution_id = $1;`
	tag, err := t.tx.Exec(ctx, sql, distributionID, status)
	if err != nil {
		return fmt.Errorf("%w: set distribution status: %v", models.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: distribution %s", models.ErrNotFound, distributionID)
	}
	return nil
}

func (t *pgTx) ListDistributionsByRecipient(ctx context.Context, userID string, limit int) ([]*models.RevenueDistribution, error) {
	sql := `
		SELECT distribution_id, transaction_id, resource_id, resource_type, total_amount,
		       platform_amount, developer_amount, provider_amount, platform_id, developer_id,
		       COALESCE(provider_id, ''), status, created_at
		FROM revenue_distributions
		WHERE platform_id = $1 OR developer_id = $1 OR provider_id = $1
		ORDER BY created_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		sql += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := t.tx.Query(ctx, sql+";", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list distributions: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.RevenueDistribution
	for rows.Next() {
		var d models.RevenueDistribution
		if err := rows.Scan(&d.DistributionID, &d.TransactionID, &d.ResourceID, &d.ResourceType,
			&d.TotalAmount, &d.PlatformAmount, &d.DeveloperAmount, &d.ProviderAmount,
			&d.PlatformID, &d.DeveloperID, &d.ProviderID, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan distribution: %v", models.ErrStorage, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
