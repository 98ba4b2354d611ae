package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GlobalSushrut/mcp-zero/internal/agent"
	"github.com/GlobalSushrut/mcp-zero/internal/agreements"
	"github.com/GlobalSushrut/mcp-zero/internal/billing"
	"github.com/GlobalSushrut/mcp-zero/internal/marketplace"
	"github.com/GlobalSushrut/mcp-zero/internal/mesh"
	"github.com/GlobalSushrut/mcp-zero/internal/monitor"
	"github.com/GlobalSushrut/mcp-zero/internal/plugins"
	"github.com/GlobalSushrut/mcp-zero/internal/trace"
)

// APIHandler bundles the services the RPC boundary fronts. Any field may be
// nil; handlers answer 503 for surfaces whose backing service is absent.
type APIHandler struct {
	agents     *agent.Service
	engine     *agreements.Engine
	billingSys *billing.System
	catalog    *marketplace.Catalog
	registry   *plugins.Registry
	monitor    *monitor.Monitor
	tree       *trace.Tree
	meshNode   *mesh.Node
	wsHub      *Hub
}

// Deps names the collaborators for SetupRouter.
type Deps struct {
	Agents    *agent.Service
	Engine    *agreements.Engine
	Billing   *billing.System
	Catalog   *marketplace.Catalog
	Registry  *plugins.Registry
	Monitor   *monitor.Monitor
	Tree      *trace.Tree
	MeshNode  *mesh.Node
	Hub       *Hub
	RateLimit *RateLimiter
}

// SetupRouter builds the gin engine with CORS, auth and rate limiting, and
// mounts the /api/v1 surface. Health and the event stream stay public.
func SetupRouter(d Deps) *gin.Engine {
	r := gin.Default()

	// CORS is configurable via ALLOWED_ORIGINS (comma-separated); empty or
	// "*" allows everything.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &APIHandler{
		agents:     d.Agents,
		engine:     d.Engine,
		billingSys: d.Billing,
		catalog:    d.Catalog,
		registry:   d.Registry,
		monitor:    d.Monitor,
		tree:       d.Tree,
		meshNode:   d.MeshNode,
		wsHub:      d.Hub,
	}

	public := r.Group("/api/v1")
	{
		public.GET("/health", h.handleHealth)
		if d.Hub != nil {
			public.GET("/stream", d.Hub.Subscribe)
		}
	}

	api := r.Group("/api/v1")
	if d.RateLimit != nil {
		api.Use(d.RateLimit.Middleware())
	}
	api.Use(AuthMiddleware())
	{
		// Agent lifecycle.
		api.POST("/agents", h.handleSpawn)
		api.GET("/agents", h.handleListAgents)
		api.GET("/agents/:id", h.handleGetAgent)
		api.GET("/agents/:id/memories", h.handleAgentMemories)
		api.POST("/agents/:id/plugins", h.handleAttachPlugin)
		api.POST("/agents/:id/execute", h.handleExecute)
		api.POST("/agents/:id/snapshot", h.handleSnapshot)
		api.POST("/agents/:id/pause", h.handlePause)
		api.POST("/agents/:id/resume", h.handleResume)
		api.POST("/agents/:id/terminate", h.handleTerminate)
		api.POST("/agents/recover", h.handleRecover)

		// Agreements.
		api.POST("/agreements", h.handleCreateAgreement)
		api.GET("/agreements", h.handleListAgreements)
		api.GET("/agreements/:id", h.handleGetAgreement)
		api.POST("/agreements/:id/sign", h.handleSignAgreement)
		api.GET("/agreements/:id/validity", h.handleAgreementValidity)
		api.POST("/agreements/:id/usage", h.handleRecordAgreementUsage)
		api.GET("/agreements/:id/usage", h.handleAgreementUsageStatus)

		// Billing.
		api.POST("/billing/users", h.handleRegisterUser)
		api.GET("/billing/wallets/:user_id", h.handleGetWallet)
		api.POST("/billing/wallets/:user_id/deposit", h.handleDeposit)
		api.POST("/billing/invoices", h.handleGenerateInvoice)
		api.POST("/billing/invoices/:id/pay", h.handlePayInvoice)
		api.GET("/billing/earnings/:user_id", h.handleEarnings)
		api.POST("/billing/pricing", RequireRole(RoleAdmin), h.handleSetPrice)

		// Marketplace.
		api.POST("/marketplace/listings", RequireRole(RoleDeveloper), h.handlePublishListing)
		api.GET("/marketplace/listings", h.handleSearchListings)
		api.GET("/marketplace/listings/:id", h.handleGetListing)
		api.POST("/marketplace/listings/:id/reviews", h.handleAddReview)
		api.GET("/marketplace/listings/:id/reviews", h.handleListReviews)
		api.POST("/marketplace/listings/:id/purchase", h.handlePurchase)
		api.POST("/marketplace/listings/:id/download", h.handleDownload)

		// Plugins.
		api.POST("/plugins", RequireRole(RoleDeveloper), h.handleRegisterPlugin)
		api.GET("/plugins", h.handleListPlugins)
		api.GET("/plugins/:id", h.handleGetPlugin)

		// System.
		api.GET("/system/status", h.handleSystemStatus)
		api.GET("/system/resources", h.handleSystemResources)
		api.GET("/mesh/peers", h.handleMeshPeers)
		api.GET("/mesh/resources", h.handleMeshResources)
	}

	return r
}

// handleHealth reports service status and capabilities for discovery. It is
// the health-check surface the CLI exercises.
func (h *APIHandler) handleHealth(c *gin.Context) {
	meshConnected := h.meshNode != nil && len(h.meshNode.Peers()) > 0

	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "MCP-ZERO Fabric",
		"capabilities": gin.H{
			"agent_lifecycle":  h.agents != nil,
			"memory_trace":     h.tree != nil,
			"agreements":       h.engine != nil,
			"billing":          h.billingSys != nil,
			"marketplace":      h.catalog != nil,
			"plugins":          h.registry != nil,
			"resource_monitor": h.monitor != nil,
			"mesh":             h.meshNode != nil,
		},
		"meshConnected": meshConnected,
	})
}

// handleSystemStatus aggregates the monitor report with fabric counters.
func (h *APIHandler) handleSystemStatus(c *gin.Context) {
	status := gin.H{"status": "operational"}
	if h.monitor != nil {
		status["resources"] = h.monitor.Report()
	}
	if h.agents != nil {
		status["agents"] = len(h.agents.List())
	}
	if h.registry != nil {
		status["plugins"] = len(h.registry.List())
	}
	if h.meshNode != nil {
		status["mesh_peers"] = len(h.meshNode.Peers())
	}
	c.JSON(http.StatusOK, status)
}

// handleSystemResources returns the raw monitor report.
func (h *APIHandler) handleSystemResources(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "resource monitor not running"})
		return
	}
	c.JSON(http.StatusOK, h.monitor.Report())
}

func (h *APIHandler) handleMeshPeers(c *gin.Context) {
	if h.meshNode == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "mesh not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": h.meshNode.Peers()})
}

func (h *APIHandler) handleMeshResources(c *gin.Context) {
	if h.meshNode == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "mesh not enabled"})
		return
	}
	resourceType := c.Query("type")
	localOnly := c.Query("local_only") == "true"
	resources := h.meshNode.QueryResources(c.Request.Context(), resourceType, nil, localOnly, 0)
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}
