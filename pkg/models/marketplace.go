package models

import "time"

// Listing types
const (
	ListingAgent    = "agent"
	ListingPlugin   = "plugin"
	ListingModel    = "model"
	ListingResource = "resource"
)

// Pricing models
const (
	PricingFree         = "free"
	PricingOneTime      = "one-time"
	PricingSubscription = "subscription"
	PricingUsageBased   = "usage-based"
	PricingTiered       = "tiered"
)

// Listing is one published marketplace entry.
type Listing struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Type          string    `json:"type"`
	Version       string    `json:"version"`
	PublisherID   string    `json:"publisher_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PricingModel  string    `json:"pricing_model"`
	PriceUSD      float64   `json:"price_usd"`
	Tags          []string  `json:"tags,omitempty"`
	DownloadCount int       `json:"download_count"`
	Rating        float64   `json:"rating"` // aggregate over reviews
	ReviewCount   int       `json:"review_count"`
}

// Review is a single user rating of a listing. Rating is 1-5 inclusive.
type Review struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	UserID    string    `json:"user_id"`
	Rating    float64   `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PluginDescriptor declares a sandboxed capability module with its resource
// caps. Registration happens before any agent may attach the plugin.
type PluginDescriptor struct {
	PluginID     string            `json:"plugin_id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Capabilities []string          `json:"capabilities,omitempty"`
	CPULimit     float64           `json:"cpu_limit,omitempty"`    // fraction of one core
	MemoryLimit  float64           `json:"memory_limit,omitempty"` // MB
	Hash         string            `json:"hash,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}
