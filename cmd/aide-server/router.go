package main

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"aide/internal/engine"
	"aide/internal/events"
	"aide/internal/llm"
	"aide/internal/security"
)

type chatRequest struct {
	SessionID string        `json:"session_id" binding:"required"`
	Message   string        `json:"message" binding:"required"`
	History   []llm.Message `json:"history"`
	Stream    *bool         `json:"stream"`
	Reflect   bool          `json:"reflect"`
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
	// Action overrides Approved when set: approve, deny, or instruct.
	Action string `json:"action"`
}

type modelRequest struct {
	Name    string `json:"name" binding:"required"`
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Model   string `json:"model" binding:"required"`
}

type assignRequest struct {
	Scenario string `json:"scenario" binding:"required"`
	ModelID  string `json:"model_id" binding:"required"`
}

func newRouter(a *app) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	api := r.Group("/api")
	api.POST("/chat/stream", a.handleChatStream)
	api.POST("/approval/:request_id", a.handleToolApproval)
	api.POST("/plan/:plan_id/approval", a.handlePlanApproval)
	api.POST("/memory/compress", a.handleMemoryCompress)
	api.POST("/memory/archive", a.handleMemoryArchive)
	api.GET("/cache/stats", a.handleCacheStats)
	api.POST("/cache/clear", a.handleCacheClear)

	models := api.Group("/models")
	models.GET("", a.handleListModels)
	models.POST("", a.handleAddModel)
	models.PUT("/:id", a.handleUpdateModel)
	models.DELETE("/:id", a.handleDeleteModel)
	models.GET("/assignments", a.handleAssignments)
	models.POST("/assign", a.handleAssignModel)

	return r
}

// handleChatStream runs one request and streams its events as SSE frames.
func (a *app) handleChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stream := req.Stream == nil || *req.Stream

	ch, err := a.runner.Run(c.Request.Context(), engine.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		History:   req.History,
		Stream:    stream,
		Reflect:   req.Reflect,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	writeSSEHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	for ev := range ch {
		frame, err := ev.SSEFrame()
		if err != nil {
			a.logger.Warn("drop unserializable event %s: %v", ev.Type, err)
			continue
		}
		if _, err := c.Writer.WriteString(frame); err != nil {
			// Client gone; the run keeps draining so state stays consistent.
			a.logger.Debug("sse client disconnected: %v", err)
			for range ch {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleToolApproval resolves a pending tool-level approval request.
func (a *app) handleToolApproval(c *gin.Context) {
	if a.guard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "security gate disabled"})
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision := security.Decision{Approved: req.Approved, Feedback: req.Feedback}
	switch req.Action {
	case "approve":
		decision.Approved = true
	case "deny":
		decision.Approved = false
	case "instruct":
		// Execution is denied, but the feedback travels to the model.
		decision.Approved = false
	}
	if !a.guard.Gate().Resolve(c.Param("request_id"), decision) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// handlePlanApproval delivers the user's decision for a suspended plan.
func (a *app) handlePlanApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !a.runner.ResolvePlanApproval(c.Param("plan_id"), req.Approved, req.Feedback) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// handleMemoryCompress streams compression progress as SSE.
func (a *app) handleMemoryCompress(c *gin.Context) {
	writeSSEHeaders(c)
	flusher, _ := c.Writer.(http.Flusher)
	emit := func(ev events.Event) {
		frame, err := ev.SSEFrame()
		if err != nil {
			return
		}
		_, _ = c.Writer.WriteString(frame)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := a.compressor.Run(c.Request.Context(), emit); err != nil {
		emit(events.Error(err.Error()))
	}
	emit(events.Done())
}

// handleMemoryArchive triggers one archival sweep synchronously.
func (a *app) handleMemoryArchive(c *gin.Context) {
	if err := a.archiver.Run(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": true})
}

// handleCacheStats reports per-facade entry counts and disk usage.
func (a *app) handleCacheStats(c *gin.Context) {
	stats := make(map[string]any, len(a.caches.stores))
	for name, store := range a.caches.stores {
		stats[name] = store.Stats()
	}
	c.JSON(http.StatusOK, stats)
}

// handleCacheClear empties one named cache, or all of them.
func (a *app) handleCacheClear(c *gin.Context) {
	name := c.Query("type")
	cleared := map[string]int{}
	if name != "" {
		store, ok := a.caches.stores[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown cache type"})
			return
		}
		cleared[name] = store.Clear()
	} else {
		for n, store := range a.caches.stores {
			cleared[n] = store.Clear()
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (a *app) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":      a.pool.List(),
		"assignments": a.pool.Assignments(),
	})
}

func (a *app) handleAddModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := a.pool.Add(req.Name, req.APIKey, req.APIBase, req.Model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": entry.ID})
}

func (a *app) handleUpdateModel(c *gin.Context) {
	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := a.pool.Update(c.Param("id"), fields); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (a *app) handleDeleteModel(c *gin.Context) {
	if err := a.pool.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (a *app) handleAssignments(c *gin.Context) {
	c.JSON(http.StatusOK, a.pool.Assignments())
}

func (a *app) handleAssignModel(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.pool.Assign(req.Scenario, req.ModelID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true})
}

func writeSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}
