package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cfdb/internal/apperr"
	"cfdb/internal/service"
	"cfdb/pkg/log"
)

// SyncHandler serves the ingestion control endpoints.
type SyncHandler struct {
	syncService service.SyncService
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(syncService service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

type syncRequest struct {
	DCCs []string `json:"dccs"`
}

// Trigger handles POST /sync. The API-key middleware runs first; a request
// reaching here is authenticated.
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sync request body"})
			return
		}
	}
	// The DCC scope may also arrive as ?dccs=a,b or repeated ?dccs= params
	// for clients without a body.
	if len(req.DCCs) == 0 {
		for _, raw := range c.QueryArray("dccs") {
			for _, name := range strings.Split(raw, ",") {
				if name = strings.TrimSpace(name); name != "" {
					req.DCCs = append(req.DCCs, name)
				}
			}
		}
	}

	task, err := h.syncService.Trigger(c.Request.Context(), req.DCCs)
	if err != nil {
		log.Warnf("[SyncHandler] sync request rejected: %v", err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"dccs":    task.DCCNames,
		"status":  task.Status,
	})
}

// Status handles GET /sync/status with an optional task_id query parameter.
// Task records expire; the lock document is always reported alongside.
func (h *SyncHandler) Status(c *gin.Context) {
	task, err := h.syncService.Status(c.Request.Context(), c.Query("task_id"))
	if err != nil {
		log.Errorf("[SyncHandler] status lookup failed: %v", err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
		return
	}
	lock, err := h.syncService.Lock(c.Request.Context())
	if err != nil {
		log.Errorf("[SyncHandler] lock lookup failed: %v", err)
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
		return
	}
	if task == nil && lock == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sync on record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "lock": lock})
}
