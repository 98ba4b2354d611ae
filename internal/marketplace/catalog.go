// Package marketplace is the public catalog of agents, plugins, models and
// resources. Listings carry a pricing model, an aggregate review rating and
// a download counter; paid purchases settle through the billing system.
package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

var listingTypes = map[string]bool{
	models.ListingAgent:    true,
	models.ListingPlugin:   true,
	models.ListingModel:    true,
	models.ListingResource: true,
}

var pricingModels = map[string]bool{
	models.PricingFree:         true,
	models.PricingOneTime:      true,
	models.PricingSubscription: true,
	models.PricingUsageBased:   true,
	models.PricingTiered:       true,
}

// SearchFilter narrows a catalog search. Zero-value fields match everything.
type SearchFilter struct {
	Query        string
	Type         string
	PricingModel string
	Tag          string
	MaxPriceUSD  float64 // 0 means no cap
	MinRating    float64
	Limit        int
}

// Purchase records one completed acquisition of a listing.
type Purchase struct {
	PurchaseID     string    `json:"purchase_id"`
	ListingID      string    `json:"listing_id"`
	BuyerID        string    `json:"buyer_id"`
	AmountUSD      float64   `json:"amount_usd"`
	DistributionID string    `json:"distribution_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Catalog holds the marketplace state. All methods are safe for concurrent
// use.
type Catalog struct {
	mu        sync.Mutex
	listings  map[string]*models.Listing
	reviews   map[string][]models.Review // listing id -> reviews
	purchases map[string][]Purchase      // buyer id -> purchases
	billing   *billing.System
	log       *logrus.Entry
}

// NewCatalog creates an empty catalog. The billing system may be nil, in
// which case only free listings can be acquired.
func NewCatalog(billingSystem *billing.System) *Catalog {
	return &Catalog{
		listings:  make(map[string]*models.Listing),
		reviews:   make(map[string][]models.Review),
		purchases: make(map[string][]Purchase),
		billing:   billingSystem,
		log:       logrus.WithField("component", "marketplace"),
	}
}

// PublishListing validates and stores a new listing, returning it with its
// generated id and timestamps.
func (c *Catalog) PublishListing(l models.Listing) (*models.Listing, error) {
	if l.Name == "" || l.PublisherID == "" {
		return nil, fmt.Errorf("%w: listing name and publisher id are required", models.ErrValidation)
	}
	if !listingTypes[l.Type] {
		return nil, fmt.Errorf("%w: unknown listing type %q", models.ErrValidation, l.Type)
	}
	if !pricingModels[l.PricingModel] {
		return nil, fmt.Errorf("%w: unknown pricing model %q", models.ErrValidation, l.PricingModel)
	}
	if l.PriceUSD < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", models.ErrValidation)
	}
	if l.PricingModel == models.PricingFree && l.PriceUSD != 0 {
		return nil, fmt.Errorf("%w: free listings must have zero price", models.ErrValidation)
	}

	now := time.Now().UTC()
	l.ID = uuid.New().String()
	l.CreatedAt = now
	l.UpdatedAt = now
	l.DownloadCount = 0
	l.Rating = 0
	l.ReviewCount = 0

	c.mu.Lock()
	c.listings[l.ID] = &l
	c.mu.Unlock()

	c.log.Infof("Published %s listing %s (%s) by %s", l.Type, l.Name, l.ID, l.PublisherID)
	out := l
	return &out, nil
}

// UpdateListing applies mutable fields from upd to an existing listing. Only
// the publisher may update it. Identity, counters and rating are preserved.
func (c *Catalog) UpdateListing(listingID, publisherID string, upd models.Listing) (*models.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}
	if l.PublisherID != publisherID {
		return nil, fmt.Errorf("%w: only the publisher may update a listing", models.ErrValidation)
	}
	if upd.PricingModel != "" && !pricingModels[upd.PricingModel] {
		return nil, fmt.Errorf("%w: unknown pricing model %q", models.ErrValidation, upd.PricingModel)
	}
	if upd.PriceUSD < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", models.ErrValidation)
	}

	if upd.Name != "" {
		l.Name = upd.Name
	}
	if upd.Description != "" {
		l.Description = upd.Description
	}
	if upd.Version != "" {
		l.Version = upd.Version
	}
	if upd.PricingModel != "" {
		l.PricingModel = upd.PricingModel
	}
	if upd.PriceUSD > 0 {
		l.PriceUSD = upd.PriceUSD
	}
	if upd.Tags != nil {
		l.Tags = append([]string(nil), upd.Tags...)
	}
	l.UpdatedAt = time.Now().UTC()

	out := *l
	return &out, nil
}

// GetListing returns a copy of one listing.
func (c *Catalog) GetListing(listingID string) (*models.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}
	out := *l
	return &out, nil
}

// RemoveListing deletes a listing and its reviews. Only the publisher may
// remove it.
func (c *Catalog) RemoveListing(listingID, publisherID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listings[listingID]
	if !ok {
		return fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}
	if l.PublisherID != publisherID {
		return fmt.Errorf("%w: only the publisher may remove a listing", models.ErrValidation)
	}
	delete(c.listings, listingID)
	delete(c.reviews, listingID)
	c.log.Infof("Removed listing %s", listingID)
	return nil
}

// Search returns listings matching the filter, ordered by rating then
// download count, both descending.
func (c *Catalog) Search(f SearchFilter) []models.Listing {
	query := strings.ToLower(f.Query)

	c.mu.Lock()
	var out []models.Listing
	for _, l := range c.listings {
		if f.Type != "" && l.Type != f.Type {
			continue
		}
		if f.PricingModel != "" && l.PricingModel != f.PricingModel {
			continue
		}
		if f.MaxPriceUSD > 0 && l.PriceUSD > f.MaxPriceUSD {
			continue
		}
		if l.Rating < f.MinRating {
			continue
		}
		if f.Tag != "" && !hasTag(l.Tags, f.Tag) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(l.Name), query) &&
			!strings.Contains(strings.ToLower(l.Description), query) {
			continue
		}
		out = append(out, *l)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].DownloadCount != out[j].DownloadCount {
			return out[i].DownloadCount > out[j].DownloadCount
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// AddReview records a review and folds it into the listing's aggregate
// rating. Rating must be within 1 and 5 inclusive.
func (c *Catalog) AddReview(listingID, userID string, rating float64, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", models.ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}

	r := models.Review{
		ID:        uuid.New().String(),
		ListingID: listingID,
		UserID:    userID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	c.reviews[listingID] = append(c.reviews[listingID], r)

	// Incremental mean keeps the stored aggregate exact.
	l.Rating = (l.Rating*float64(l.ReviewCount) + rating) / float64(l.ReviewCount+1)
	l.ReviewCount++
	l.UpdatedAt = r.CreatedAt

	return &r, nil
}

// Reviews returns all reviews for a listing, newest first.
func (c *Catalog) Reviews(listingID string) ([]models.Review, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.listings[listingID]; !ok {
		return nil, fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}
	rs := append([]models.Review(nil), c.reviews[listingID]...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
	return rs, nil
}

// RecordDownload bumps the download counter.
func (c *Catalog) RecordDownload(listingID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.listings[listingID]
	if !ok {
		return 0, fmt.Errorf("%w: listing %s", models.ErrNotFound, listingID)
	}
	l.DownloadCount++
	return l.DownloadCount, nil
}

// PurchaseListing acquires a listing for the buyer. Free listings complete
// immediately; paid ones are charged through billing with the publisher
// credited as developer. Every completed purchase counts as a download.
func (c *Catalog) PurchaseListing(ctx context.Context, listingID, buyerID, providerID string) (*Purchase, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", models.ErrValidation)
	}
	l, err := c.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if l.PublisherID == buyerID {
		return nil, fmt.Errorf("%w: publisher cannot purchase own listing", models.ErrValidation)
	}

	p := Purchase{
		PurchaseID: uuid.New().String(),
		ListingID:  listingID,
		BuyerID:    buyerID,
		AmountUSD:  l.PriceUSD,
		CreatedAt:  time.Now().UTC(),
	}

	if l.PricingModel != models.PricingFree && l.PriceUSD > 0 {
		if c.billing == nil {
			return nil, fmt.Errorf("%w: billing is not configured", models.ErrValidation)
		}
		dist, err := c.billing.ProcessAgentPurchase(ctx, buyerID, l.PublisherID, providerID,
			listingID, l.Type, l.PriceUSD)
		if err != nil {
			return nil, fmt.Errorf("purchasing listing %s: %w", listingID, err)
		}
		p.DistributionID = dist.DistributionID
	}

	c.mu.Lock()
	c.purchases[buyerID] = append(c.purchases[buyerID], p)
	if l, ok := c.listings[listingID]; ok {
		l.DownloadCount++
	}
	c.mu.Unlock()

	c.log.Infof("Purchase %s: buyer %s acquired listing %s for %.2f",
		p.PurchaseID, buyerID, listingID, p.AmountUSD)
	return &p, nil
}

// PurchasesByUser returns the buyer's purchases, newest first.
func (c *Catalog) PurchasesByUser(buyerID string) []Purchase {
	c.mu.Lock()
	defer c.mu.Unlock()

	ps := append([]Purchase(nil), c.purchases[buyerID]...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
	return ps
}

// HasPurchased reports whether the buyer already owns the listing.
func (c *Catalog) HasPurchased(buyerID, listingID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.purchases[buyerID] {
		if p.ListingID == listingID {
			return true
		}
	}
	return false
}
