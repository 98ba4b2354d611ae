package agreements

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(t.TempDir())
	require.NoError(t, err)
	return e
}

// backdate rewrites an agreement's expiration to the past.
func backdate(t *testing.T, e *Engine, agreementID string, ago time.Duration) {
	t.Helper()
	a, err := e.Get(agreementID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-ago)
	a.ExpirationDate = &past
	e.mu.Lock()
	require.NoError(t, e.save(a))
	e.mu.Unlock()
}

func activateAgreement(t *testing.T, e *Engine, tpl Template) string {
	t.Helper()
	id, err := CreateFromTemplate(e, "consumer-1", "provider-1", "resource-1", tpl)
	require.NoError(t, err)
	_, err = e.Sign(id, "consumer-1", "sig-c")
	require.NoError(t, err)
	_, err = e.Sign(id, "provider-1", "sig-p")
	require.NoError(t, err)
	return id
}

func TestLifecycle_SecondSignatureActivates(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.CreateAgreement("consumer-1", "provider-1", "resource-1", models.AgreementBusiness)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, a.Status)

	// Signing is only allowed once the draft has been submitted.
	_, err = e.Sign(a.AgreementID, "consumer-1", "sig")
	assert.ErrorIs(t, err, models.ErrAgreementState)

	require.NoError(t, e.Submit(a.AgreementID))

	signed, err := e.Sign(a.AgreementID, "consumer-1", "sig-c")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, signed.Status)
	assert.Nil(t, signed.EffectiveDate)

	active, err := e.Sign(a.AgreementID, "provider-1", "sig-p")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)
	require.NotNil(t, active.EffectiveDate)
	require.NotNil(t, active.ExpirationDate)
	// Default term is one year from activation.
	assert.WithinDuration(t, active.EffectiveDate.AddDate(0, 0, 365), *active.ExpirationDate, time.Minute)
}

func TestSign_IdempotentPerParty(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.CreateAgreement("consumer-1", "provider-1", "resource-1", models.AgreementFree)
	require.NoError(t, err)
	require.NoError(t, e.Submit(a.AgreementID))

	first, err := e.Sign(a.AgreementID, "consumer-1", "sig-1")
	require.NoError(t, err)
	audits := len(first.AuditTrail)

	again, err := e.Sign(a.AgreementID, "consumer-1", "sig-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status, "one party cannot activate alone")
	assert.Equal(t, "sig-1", again.Signatures["consumer-1"].Signature, "first signature is kept")
	assert.Len(t, again.AuditTrail, audits, "re-signing appends no audit entry")
}

func TestSign_RejectsNonParty(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.CreateAgreement("consumer-1", "provider-1", "resource-1", models.AgreementFree)
	require.NoError(t, err)
	require.NoError(t, e.Submit(a.AgreementID))

	_, err = e.Sign(a.AgreementID, "stranger", "sig")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMutators_RejectedOnceActive(t *testing.T) {
	e := newTestEngine(t)
	id := activateAgreement(t, e, FreeTierTemplate())

	err := e.SetTerms(id, map[string]interface{}{"support": "none"})
	assert.ErrorIs(t, err, models.ErrAgreementState)
	err = e.SetUsageLimits(id, map[string]float64{MetricAPICalls: 1})
	assert.ErrorIs(t, err, models.ErrAgreementState)
}

func TestCheckAgreementValidity(t *testing.T) {
	e := newTestEngine(t)
	id := activateAgreement(t, e, PersonalTierTemplate())

	res := e.CheckAgreementValidity(id, "resource-1")
	assert.True(t, res.Valid)
	assert.Equal(t, models.AgreementPersonal, res.AgreementType)
	assert.Equal(t, "consumer-1", res.ConsumerID)

	assert.False(t, e.CheckAgreementValidity(id, "other-resource").Valid)
	assert.False(t, e.CheckAgreementValidity("no-such-id", "resource-1").Valid)
}

func TestCheckAgreementValidity_ExpiresPastDue(t *testing.T) {
	e := newTestEngine(t)
	id := activateAgreement(t, e, PersonalTierTemplate())
	backdate(t, e, id, time.Hour)

	res := e.CheckAgreementValidity(id, "resource-1")
	assert.False(t, res.Valid)
	assert.Equal(t, "Agreement expired", res.Reason)

	a, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, a.Status, "the check itself transitions the agreement")
}

func TestRecordUsage_WarnsButRecords(t *testing.T) {
	e := newTestEngine(t)
	id := activateAgreement(t, e, FreeTierTemplate())

	res, err := e.RecordUsage(id, MetricAPICalls, 60)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Warning)

	res, err = e.RecordUsage(id, MetricAPICalls, 60)
	require.NoError(t, err)
	assert.True(t, res.Success, "usage beyond the limit is still recorded")
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 100.0, res.Limit)
	assert.Equal(t, 120.0, res.Usage)
}

func TestRecordUsage_RejectsInactive(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.CreateAgreement("consumer-1", "provider-1", "resource-1", models.AgreementFree)
	require.NoError(t, err)

	_, err = e.RecordUsage(a.AgreementID, MetricAPICalls, 1)
	assert.ErrorIs(t, err, models.ErrAgreementState)
}

// A business agreement over its api_calls limit gets the excess metered as
// an overage usage record; further sweeps with no new usage add nothing.
func TestSweepUsage_BusinessOverage(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	store := billing.NewMemStore()
	sys := billing.NewSystem(store)

	tpl := BusinessTierTemplate()
	tpl.UsageLimits = map[string]float64{MetricAPICalls: 1000}
	tpl.Pricing = models.AgreementPricing{
		BaseFee:      9.99,
		OverageRates: map[string]float64{MetricAPICalls: 0.001},
	}
	id := activateAgreement(t, e, tpl)

	_, err := e.RecordUsage(id, MetricAPICalls, 1100)
	require.NoError(t, err)

	require.NoError(t, sys.Tracker.SetPrice(ctx, "overage_api_calls", 0.001, nil, nil))

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepUsage(ctx))

	total, summary, err := sys.Tracker.CalculateUsageCost(ctx, "consumer-1",
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "overage_api_calls", summary[0].UsageType)
	assert.Equal(t, 100.0, summary[0].TotalQuantity)
	assert.InDelta(t, 0.1, total, 1e-9)

	// Nothing new to bill on the second sweep.
	require.NoError(t, x.SweepUsage(ctx))
	_, summary, err = sys.Tracker.CalculateUsageCost(ctx, "consumer-1",
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 100.0, summary[0].TotalQuantity)
}

func TestSweepUsage_FreeTierSuspends(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())

	id := activateAgreement(t, e, FreeTierTemplate())
	_, err := e.RecordUsage(id, MetricAPICalls, 150)
	require.NoError(t, err)

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepUsage(ctx))

	a, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, a.Status)
}

func TestSweepUsage_ExpiresAgreements(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())

	id := activateAgreement(t, e, PersonalTierTemplate())
	backdate(t, e, id, time.Hour)

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepUsage(ctx))

	a, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, a.Status)
}

func TestSweepBilling_ChargesAndStamps(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())

	buyer, err := sys.Ledger.CreateWallet(ctx, "consumer-1")
	require.NoError(t, err)
	_, err = sys.Ledger.Deposit(ctx, buyer.WalletID, 100, "", "")
	require.NoError(t, err)

	id := activateAgreement(t, e, PersonalTierTemplate())

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepBilling(ctx))

	after, err := sys.Ledger.GetWallet(ctx, buyer.WalletID)
	require.NoError(t, err)
	assert.InDelta(t, 100-9.99, after.Balance, 1e-9)

	a, err := e.Get(id)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Metadata["last_billed_date"])

	// Within the same period the fee is not charged again.
	require.NoError(t, x.SweepBilling(ctx))
	after, err = sys.Ledger.GetWallet(ctx, buyer.WalletID)
	require.NoError(t, err)
	assert.InDelta(t, 100-9.99, after.Balance, 1e-9)
}

func TestSweepBilling_PaymentFailureSuspends(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())

	// The consumer has a wallet but not enough funds.
	_, err := sys.Ledger.CreateWallet(ctx, "consumer-1")
	require.NoError(t, err)

	id := activateAgreement(t, e, PersonalTierTemplate())

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepBilling(ctx))

	a, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, a.Status)
	assert.NotEmpty(t, a.Metadata["payment_failure_date"])
}

func TestSweepCleanup_ArchivesOldExpired(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())

	id := activateAgreement(t, e, PersonalTierTemplate())
	backdate(t, e, id, 100*24*time.Hour)
	require.NoError(t, e.Expire(id))

	x := NewExecutor(e, sys)
	require.NoError(t, x.SweepCleanup(ctx))

	_, err := e.Get(id)
	assert.ErrorIs(t, err, models.ErrNotFound)

	archived := filepath.Join(e.dir, archiveDir, id+".json")
	_, err = os.Stat(archived)
	assert.NoError(t, err, "archived copy must exist")
}

func TestExecutor_StopsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	sys := billing.NewSystem(billing.NewMemStore())
	x := NewExecutor(e, sys, WithIntervals(10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	x.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		x.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor workers did not exit on cancel")
	}
}
