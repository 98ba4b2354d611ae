package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GlobalSushrut/mcp-zero/internal/marketplace"
	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

func (h *APIHandler) requireCatalog(c *gin.Context) bool {
	if h.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "marketplace not configured"})
		return false
	}
	return true
}

// handlePublishListing publishes a listing. Developer or admin role.
func (h *APIHandler) handlePublishListing(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}

	var req models.Listing
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	l, err := h.catalog.PublishListing(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h *APIHandler) handleSearchListings(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}

	maxPrice, _ := strconv.ParseFloat(c.DefaultQuery("max_price", "0"), 64)
	minRating, _ := strconv.ParseFloat(c.DefaultQuery("min_rating", "0"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results := h.catalog.Search(marketplace.SearchFilter{
		Query:        c.Query("q"),
		Type:         c.Query("type"),
		PricingModel: c.Query("pricing_model"),
		Tag:          c.Query("tag"),
		MaxPriceUSD:  maxPrice,
		MinRating:    minRating,
		Limit:        limit,
	})
	c.JSON(http.StatusOK, gin.H{"listings": results, "count": len(results)})
}

func (h *APIHandler) handleGetListing(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}
	l, err := h.catalog.GetListing(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *APIHandler) handleAddReview(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}

	var req struct {
		UserID  string  `json:"user_id"`
		Rating  float64 `json:"rating"`
		Comment string  `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	review, err := h.catalog.AddReview(c.Param("id"), req.UserID, req.Rating, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *APIHandler) handleListReviews(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}
	reviews, err := h.catalog.Reviews(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// handlePurchase settles a purchase through the billing revenue split and
// records it for the buyer.
func (h *APIHandler) handlePurchase(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}

	var req struct {
		BuyerID    string `json:"buyer_id"`
		ProviderID string `json:"provider_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BuyerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "buyer_id is required"})
		return
	}

	purchase, err := h.catalog.PurchaseListing(c.Request.Context(), c.Param("id"), req.BuyerID, req.ProviderID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.PublishEvent("listing_purchased", gin.H{
			"listing_id": purchase.ListingID,
			"buyer_id":   purchase.BuyerID,
			"amount_usd": purchase.AmountUSD,
		})
	}
	c.JSON(http.StatusOK, purchase)
}

func (h *APIHandler) handleDownload(c *gin.Context) {
	if !h.requireCatalog(c) {
		return
	}
	count, err := h.catalog.RecordDownload(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"download_count": count})
}

// Plugin registry surface.

func (h *APIHandler) requireRegistry(c *gin.Context) bool {
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "plugin registry not configured"})
		return false
	}
	return true
}

func (h *APIHandler) handleRegisterPlugin(c *gin.Context) {
	if !h.requireRegistry(c) {
		return
	}

	var req models.PluginDescriptor
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	d, err := h.registry.Register(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *APIHandler) handleListPlugins(c *gin.Context) {
	if !h.requireRegistry(c) {
		return
	}
	if capability := c.Query("capability"); capability != "" {
		c.JSON(http.StatusOK, gin.H{"plugins": h.registry.WithCapability(capability)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": h.registry.List()})
}

func (h *APIHandler) handleGetPlugin(c *gin.Context) {
	if !h.requireRegistry(c) {
		return
	}
	d, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
