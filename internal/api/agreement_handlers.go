package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GlobalSushrut/mcp-zero/internal/agreements"
)

func (h *APIHandler) requireEngine(c *gin.Context) bool {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "agreement engine not running"})
		return false
	}
	return true
}

// handleCreateAgreement creates, configures and submits an agreement from a
// tier template, ready for both signatures.
func (h *APIHandler) handleCreateAgreement(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}

	var req struct {
		ConsumerID string `json:"consumer_id"`
		ProviderID string `json:"provider_id"`
		ResourceID string `json:"resource_id"`
		Tier       string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	tpl, err := agreements.TemplateForTier(req.Tier)
	if err != nil {
		writeError(c, err)
		return
	}

	agreementID, err := agreements.CreateFromTemplate(h.engine, req.ConsumerID, req.ProviderID, req.ResourceID, tpl)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agreement_id": agreementID, "status": "pending"})
}

func (h *APIHandler) handleListAgreements(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}
	ids, err := h.engine.ListAgreements(c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreements": ids})
}

func (h *APIHandler) handleGetAgreement(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}
	a, err := h.engine.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// handleSignAgreement records one party's signature. Both signatures
// activate the agreement.
func (h *APIHandler) handleSignAgreement(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}

	var req struct {
		PartyID   string `json:"party_id"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	a, err := h.engine.Sign(c.Param("id"), req.PartyID, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.PublishEvent("agreement_signed", gin.H{
			"agreement_id": a.AgreementID,
			"party_id":     req.PartyID,
			"status":       a.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agreement_id": a.AgreementID, "status": a.Status})
}

// handleAgreementValidity echoes the validation result with type and
// parties so middleware callers can authorise without a second fetch.
func (h *APIHandler) handleAgreementValidity(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}
	result := h.engine.CheckAgreementValidity(c.Param("id"), c.Query("resource_id"))
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) handleRecordAgreementUsage(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}

	var req struct {
		Metric   string  `json:"metric"`
		Quantity float64 `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	result, err := h.engine.RecordUsage(c.Param("id"), req.Metric, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) handleAgreementUsageStatus(c *gin.Context) {
	if !h.requireEngine(c) {
		return
	}
	status, err := h.engine.UsageStatus(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": status})
}
