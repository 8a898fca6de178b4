package archive

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"archive-backend/internal/lenses"
	"archive-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analysis pipeline.
type Handler struct {
	Service   *Service
	Runs      Repo
	Lenses    lenses.Repo
	Threshold float64
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, runs Repo, lr lenses.Repo, threshold float64) *Handler {
	return &Handler{Service: service, Runs: runs, Lenses: lr, Threshold: threshold}
}

// RegisterRoutes attaches pipeline routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/archive/analyze", h.triggerAnalysis)
	rg.GET("/archive/status", h.analysisStatus)
}

func (h *Handler) triggerAnalysis(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user_id is required", nil)
		return
	}

	run, err := h.Service.Trigger(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunActive):
			respond.Error(c, http.StatusConflict, "conflict", "an analysis run is already active for this user", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	c.Set("runId", run.ID)
	respond.JSON(c, http.StatusAccepted, run)
}

func (h *Handler) analysisStatus(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user_id is required", nil)
		return
	}

	run, err := h.Runs.GetLatestForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.OK(c, gin.H{"status": "not_started"})
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis status", nil)
		return
	}

	hasLenses := false
	if list, err := h.Lenses.ListByUser(c.Request.Context(), userID, h.Threshold); err == nil {
		hasLenses = len(list) > 0
	}

	respond.OK(c, gin.H{
		"run":       run,
		"status":    run.Status,
		"hasLenses": hasLenses,
	})
}
