package marketplace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

func newTestCatalog(t *testing.T) (*Catalog, *billing.System) {
	t.Helper()
	sys := billing.NewSystem(billing.NewMemStore())
	return NewCatalog(sys), sys
}

func publish(t *testing.T, c *Catalog, l models.Listing) *models.Listing {
	t.Helper()
	out, err := c.PublishListing(l)
	require.NoError(t, err)
	return out
}

func TestPublishListing_Validation(t *testing.T) {
	c, _ := newTestCatalog(t)

	_, err := c.PublishListing(models.Listing{
		Name: "x", PublisherID: "dev", Type: "gadget", PricingModel: models.PricingFree,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = c.PublishListing(models.Listing{
		Name: "x", PublisherID: "dev", Type: models.ListingAgent, PricingModel: "hourly",
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = c.PublishListing(models.Listing{
		Name: "x", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingFree, PriceUSD: 5,
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	l := publish(t, c, models.Listing{
		Name: "translator", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingOneTime, PriceUSD: 9.99,
	})
	assert.NotEmpty(t, l.ID)
	assert.Zero(t, l.DownloadCount)
	assert.Zero(t, l.ReviewCount)
}

func TestUpdateListing_PublisherOnly(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "translator", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingFree,
	})

	_, err := c.UpdateListing(l.ID, "stranger", models.Listing{Name: "hijacked"})
	assert.ErrorIs(t, err, models.ErrValidation)

	upd, err := c.UpdateListing(l.ID, "dev", models.Listing{
		Description: "translates text", Version: "1.1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "translator", upd.Name)
	assert.Equal(t, "translates text", upd.Description)
	assert.Equal(t, "1.1.0", upd.Version)
}

func TestReviews_AggregateRating(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "summarizer", PublisherID: "dev", Type: models.ListingModel,
		PricingModel: models.PricingFree,
	})

	_, err := c.AddReview(l.ID, "u1", 6, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = c.AddReview(l.ID, "u1", 0.5, "")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = c.AddReview(l.ID, "u1", 5, "great")
	require.NoError(t, err)
	_, err = c.AddReview(l.ID, "u2", 2, "meh")
	require.NoError(t, err)
	_, err = c.AddReview(l.ID, "u3", 4, "")
	require.NoError(t, err)

	got, err := c.GetListing(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ReviewCount)
	assert.InDelta(t, (5.0+2.0+4.0)/3.0, got.Rating, 1e-9)

	rs, err := c.Reviews(l.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 3)
}

func TestSearch_Filters(t *testing.T) {
	c, _ := newTestCatalog(t)
	publish(t, c, models.Listing{
		Name: "fast translator", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingOneTime, PriceUSD: 4.99, Tags: []string{"nlp"},
	})
	publish(t, c, models.Listing{
		Name: "image classifier", PublisherID: "dev", Type: models.ListingModel,
		PricingModel: models.PricingFree, Tags: []string{"vision"},
	})
	publish(t, c, models.Listing{
		Name: "premium translator", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingSubscription, PriceUSD: 49.99, Tags: []string{"nlp"},
	})

	assert.Len(t, c.Search(SearchFilter{Query: "translator"}), 2)
	assert.Len(t, c.Search(SearchFilter{Type: models.ListingModel}), 1)
	assert.Len(t, c.Search(SearchFilter{Tag: "NLP"}), 2)
	assert.Len(t, c.Search(SearchFilter{Query: "translator", MaxPriceUSD: 10}), 1)
	assert.Len(t, c.Search(SearchFilter{Limit: 2}), 2)
	assert.Empty(t, c.Search(SearchFilter{MinRating: 4.5}))
}

func TestSearch_OrderedByRatingThenDownloads(t *testing.T) {
	c, _ := newTestCatalog(t)
	low := publish(t, c, models.Listing{
		Name: "a", PublisherID: "dev", Type: models.ListingAgent, PricingModel: models.PricingFree,
	})
	high := publish(t, c, models.Listing{
		Name: "b", PublisherID: "dev", Type: models.ListingAgent, PricingModel: models.PricingFree,
	})
	_, err := c.AddReview(low.ID, "u1", 3, "")
	require.NoError(t, err)
	_, err = c.AddReview(high.ID, "u1", 5, "")
	require.NoError(t, err)

	got := c.Search(SearchFilter{})
	require.Len(t, got, 2)
	assert.Equal(t, high.ID, got[0].ID)
}

func TestPurchaseListing_Free(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "helper", PublisherID: "dev", Type: models.ListingPlugin,
		PricingModel: models.PricingFree,
	})

	p, err := c.PurchaseListing(context.Background(), l.ID, "buyer", "")
	require.NoError(t, err)
	assert.Empty(t, p.DistributionID)
	assert.Zero(t, p.AmountUSD)

	got, err := c.GetListing(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DownloadCount)
	assert.True(t, c.HasPurchased("buyer", l.ID))
}

func TestPurchaseListing_PaidSettlesThroughBilling(t *testing.T) {
	ctx := context.Background()
	c, sys := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "pro agent", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingOneTime, PriceUSD: 9.99,
	})

	buyerWallet, _, err := sys.RegisterUser(ctx, "buyer")
	require.NoError(t, err)
	_, err = sys.Ledger.Deposit(ctx, buyerWallet.WalletID, 20, "", "top up")
	require.NoError(t, err)

	p, err := c.PurchaseListing(ctx, l.ID, "buyer", "")
	require.NoError(t, err)
	assert.NotEmpty(t, p.DistributionID)
	assert.InDelta(t, 9.99, p.AmountUSD, 1e-9)

	buyerWallet, err = sys.Ledger.GetWallet(ctx, buyerWallet.WalletID)
	require.NoError(t, err)
	assert.InDelta(t, 20-9.99, buyerWallet.Balance, 1e-9)

	devWallet, err := sys.Ledger.GetWalletByUser(ctx, "dev")
	require.NoError(t, err)
	assert.InDelta(t, 9.99*0.70, devWallet.Balance, 1e-6)

	ps := c.PurchasesByUser("buyer")
	require.Len(t, ps, 1)
	assert.Equal(t, l.ID, ps[0].ListingID)
}

func TestPurchaseListing_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	c, sys := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "pro agent", PublisherID: "dev", Type: models.ListingAgent,
		PricingModel: models.PricingOneTime, PriceUSD: 9.99,
	})

	_, _, err := sys.RegisterUser(ctx, "broke")
	require.NoError(t, err)

	_, err = c.PurchaseListing(ctx, l.ID, "broke", "")
	require.Error(t, err)
	assert.False(t, c.HasPurchased("broke", l.ID))

	got, err := c.GetListing(l.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DownloadCount)
}

func TestPurchaseListing_PublisherCannotBuyOwn(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "helper", PublisherID: "dev", Type: models.ListingPlugin,
		PricingModel: models.PricingFree,
	})

	_, err := c.PurchaseListing(context.Background(), l.ID, "dev", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRemoveListing(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "helper", PublisherID: "dev", Type: models.ListingPlugin,
		PricingModel: models.PricingFree,
	})

	require.NoError(t, c.RemoveListing(l.ID, "dev"))
	_, err := c.GetListing(l.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRecordDownload(t *testing.T) {
	c, _ := newTestCatalog(t)
	l := publish(t, c, models.Listing{
		Name: "helper", PublisherID: "dev", Type: models.ListingPlugin,
		PricingModel: models.PricingFree,
	})

	for i := 0; i < 3; i++ {
		_, err := c.RecordDownload(l.ID)
		require.NoError(t, err)
	}
	n, err := c.RecordDownload(l.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
