package drawings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"archive-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the drawings repo.
type Handler struct {
	Repo Repo
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes attaches drawing routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/drawings", h.listDrawings)
	rg.GET("/drawings/:id", h.getDrawing)
}

func (h *Handler) listDrawings(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "user_id is required", nil)
		return
	}

	var (
		list []Drawing
		err  error
	)
	switch c.Query("filter") {
	case "", "all":
		list, err = h.Repo.ListByUser(c.Request.Context(), userID)
	case "analyzed":
		list, err = h.Repo.ListAnalyzed(c.Request.Context(), userID)
	case "unanalyzed":
		list, err = h.Repo.ListUnanalyzed(c.Request.Context(), userID)
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "filter must be one of all, analyzed, unanalyzed", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list drawings", nil)
		return
	}
	if list == nil {
		list = []Drawing{}
	}
	respond.OK(c, list)
}

func (h *Handler) getDrawing(c *gin.Context) {
	d, err := h.Repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "drawing not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch drawing", nil)
		}
		return
	}
	respond.OK(c, d)
}
