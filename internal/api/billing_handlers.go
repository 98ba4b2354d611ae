package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *APIHandler) requireBilling(c *gin.Context) bool {
	if h.billingSys == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "billing not configured"})
		return false
	}
	return true
}

// handleRegisterUser provisions a wallet and opens the first billing cycle.
func (h *APIHandler) handleRegisterUser(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "user_id is required"})
		return
	}

	wallet, cycle, err := h.billingSys.RegisterUser(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": wallet, "billing_cycle": cycle})
}

func (h *APIHandler) handleGetWallet(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}
	wallet, err := h.billingSys.Ledger.GetWalletByUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *APIHandler) handleDeposit(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}

	var req struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	wallet, err := h.billingSys.Ledger.GetWalletByUser(ctx, c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	tx, err := h.billingSys.Ledger.Deposit(ctx, wallet.WalletID, req.Amount, "", req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// handleGenerateInvoice closes the active billing cycle into an invoice and
// opens the next cycle.
func (h *APIHandler) handleGenerateInvoice(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "user_id is required"})
		return
	}

	invoice, err := h.billingSys.GenerateInvoice(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func (h *APIHandler) handlePayInvoice(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}
	tx, err := h.billingSys.PayInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *APIHandler) handleEarnings(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}
	earnings, err := h.billingSys.Revenue.UserEarnings(c.Request.Context(), c.Param("user_id"), 20)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, earnings)
}

// handleSetPrice sets the per-unit price for a usage type. Admin only.
func (h *APIHandler) handleSetPrice(c *gin.Context) {
	if !h.requireBilling(c) {
		return
	}

	var req struct {
		UsageType    string   `json:"usage_type"`
		PricePerUnit float64  `json:"price_per_unit"`
		TierStart    *float64 `json:"tier_start"`
		TierEnd      *float64 `json:"tier_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UsageType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "usage_type is required"})
		return
	}

	if err := h.billingSys.Tracker.SetPrice(c.Request.Context(), req.UsageType, req.PricePerUnit, req.TierStart, req.TierEnd); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "usage_type": req.UsageType})
}
