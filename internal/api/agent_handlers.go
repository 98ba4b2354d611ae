package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

func (h *APIHandler) requireAgents(c *gin.Context) bool {
	if h.agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "agent service not running"})
		return false
	}
	return true
}

// handleSpawn creates an agent. 201 with {agent_id} on success.
func (h *APIHandler) handleSpawn(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		Name        string                     `json:"name"`
		Constraints models.HardwareConstraints `json:"constraints"`
		Signature   string                     `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	a, err := h.agents.Spawn(req.Name, req.Constraints, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.PublishEvent("agent_spawned", gin.H{"agent_id": a.AgentID, "name": a.Name})
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": a.AgentID, "agent": a})
}

func (h *APIHandler) handleListAgents(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": h.agents.List()})
}

func (h *APIHandler) handleGetAgent(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}
	a, err := h.agents.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *APIHandler) handleAgentMemories(c *gin.Context) {
	if h.tree == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection", "details": "memory trace not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": h.tree.GetAgentMemories(c.Param("id"))})
}

// handleAttachPlugin verifies the presented plugin hash before attaching.
func (h *APIHandler) handleAttachPlugin(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		PluginID   string `json:"plugin_id"`
		PluginHash string `json:"plugin_hash"`
		Signature  string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	if req.PluginHash != "" && h.registry != nil {
		if err := h.registry.VerifyHash(req.PluginID, req.PluginHash); err != nil {
			writeError(c, err)
			return
		}
	}

	if err := h.agents.AttachPlugin(c.Param("id"), req.PluginID, req.Signature); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "attached", "plugin_id": req.PluginID})
}

// handleExecute runs an intent. Policy denials answer 403 with
// {error: policy_violation}; resource gate denials answer 429.
func (h *APIHandler) handleExecute(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		Intent    string                 `json:"intent"`
		Inputs    map[string]interface{} `json:"inputs"`
		Signature string                 `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	result, err := h.agents.Execute(c.Request.Context(), c.Param("id"), req.Intent, req.Inputs, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// handleSnapshot captures the agent state. 201 with {snapshot_id}.
func (h *APIHandler) handleSnapshot(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		Signature string `json:"signature"`
	}
	_ = c.ShouldBindJSON(&req)

	snap, err := h.agents.Snapshot(c.Param("id"), req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"snapshot_id": snap.SnapshotID})
}

// handleRecover restores an agent from a snapshot.
func (h *APIHandler) handleRecover(c *gin.Context) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		SnapshotID string `json:"snapshot_id"`
		Signature  string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "details": "invalid request body"})
		return
	}

	a, err := h.agents.Recover(req.SnapshotID, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.PublishEvent("agent_recovered", gin.H{"agent_id": a.AgentID})
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": a.AgentID,
		"name":     a.Name,
		"plugins":  a.Plugins,
	})
}

func (h *APIHandler) handlePause(c *gin.Context) {
	h.handleTransition(c, "paused", h.agents.Pause)
}

func (h *APIHandler) handleResume(c *gin.Context) {
	h.handleTransition(c, "active", h.agents.Resume)
}

func (h *APIHandler) handleTerminate(c *gin.Context) {
	h.handleTransition(c, "terminated", h.agents.Terminate)
}

func (h *APIHandler) handleTransition(c *gin.Context, target string, op func(string, string) error) {
	if !h.requireAgents(c) {
		return
	}

	var req struct {
		Signature string `json:"signature"`
	}
	_ = c.ShouldBindJSON(&req)

	agentID := c.Param("id")
	if err := op(agentID, req.Signature); err != nil {
		writeError(c, err)
		return
	}

	if h.wsHub != nil {
		h.wsHub.PublishEvent("agent_status", gin.H{"agent_id": agentID, "status": target})
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "status": target})
}
