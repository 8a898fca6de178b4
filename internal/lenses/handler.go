package lenses

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"archive-backend/internal/shared/server/respond"
	"archive-backend/internal/shared/telemetry"
)

// Annotator generates annotations for every pending drawing of a lens.
type Annotator interface {
	GenerateAnnotations(ctx context.Context, lensID, userID string) error
}

// Handler wires HTTP handlers to the lenses repo and the annotator.
type Handler struct {
	Repo      Repo
	Annotator Annotator
	Threshold float64

	// statusCache absorbs frontend polling of annotation progress.
	statusCache *gocache.Cache
	inflight    sync.Map // lensID -> struct{}
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo, annotator Annotator, threshold float64) *Handler {
	return &Handler{
		Repo:        repo,
		Annotator:   annotator,
		Threshold:   threshold,
		statusCache: gocache.New(2*time.Second, time.Minute),
	}
}

// RegisterRoutes attaches lens routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/lenses", h.listLenses)
	rg.GET("/lenses/:id", h.getLens)
	rg.GET("/lenses/:id/drawings", h.listLensDrawings)
	rg.GET("/lenses/:id/annotation_status", h.annotationStatus)
	rg.POST("/lenses/:id/annotations", h.triggerAnnotations)
}

func (h *Handler) listLenses(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user_id is required", nil)
		return
	}
	list, err := h.Repo.ListByUser(c.Request.Context(), userID, h.Threshold)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list lenses", nil)
		return
	}
	if list == nil {
		list = []Lens{}
	}
	respond.OK(c, list)
}

func (h *Handler) getLens(c *gin.Context) {
	lens, ok := h.lookupLens(c)
	if !ok {
		return
	}
	respond.OK(c, lens)
}

func (h *Handler) listLensDrawings(c *gin.Context) {
	lens, ok := h.lookupLens(c)
	if !ok {
		return
	}

	list, err := h.Repo.ListDrawingsForLens(c.Request.Context(), lens.ID, h.Threshold)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list lens drawings", nil)
		return
	}
	if list == nil {
		list = []LensDrawing{}
	}

	// Viewing a lens kicks off annotation for whatever is still missing.
	progress, err := h.Repo.AnnotationCounts(c.Request.Context(), lens.ID, h.Threshold)
	if err == nil && progress.Ready < progress.Total {
		h.startAnnotation(lens.ID, lens.UserID)
	}

	respond.OK(c, gin.H{
		"lens":     lens,
		"drawings": list,
	})
}

func (h *Handler) annotationStatus(c *gin.Context) {
	lens, ok := h.lookupLens(c)
	if !ok {
		return
	}

	if cached, found := h.statusCache.Get(lens.ID); found {
		respond.OK(c, cached)
		return
	}

	progress, err := h.Repo.AnnotationCounts(c.Request.Context(), lens.ID, h.Threshold)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to count annotations", nil)
		return
	}
	body := gin.H{
		"status": progress.Status(),
		"total":  progress.Total,
		"ready":  progress.Ready,
	}
	h.statusCache.SetDefault(lens.ID, body)
	respond.OK(c, body)
}

func (h *Handler) triggerAnnotations(c *gin.Context) {
	lens, ok := h.lookupLens(c)
	if !ok {
		return
	}
	h.startAnnotation(lens.ID, lens.UserID)
	respond.JSON(c, http.StatusAccepted, gin.H{
		"lensId": lens.ID,
		"status": "accepted",
	})
}

// startAnnotation launches annotation generation for a lens unless a run for
// that lens is already in flight.
func (h *Handler) startAnnotation(lensID, userID string) {
	if _, loaded := h.inflight.LoadOrStore(lensID, struct{}{}); loaded {
		return
	}
	go func() {
		defer h.inflight.Delete(lensID)
		if err := h.Annotator.GenerateAnnotations(context.Background(), lensID, userID); err != nil {
			telemetry.Error("lenses.annotation_failed", map[string]any{
				"lensId": lensID,
				"error":  err.Error(),
			})
		}
	}()
}

func (h *Handler) lookupLens(c *gin.Context) (Lens, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user_id is required", nil)
		return Lens{}, false
	}
	lens, err := h.Repo.GetByID(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "lens not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch lens", nil)
		}
		return Lens{}, false
	}
	return lens, true
}
