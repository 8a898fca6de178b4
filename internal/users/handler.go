package users

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"archive-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the users repo.
type Handler struct {
	Repo Repo
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes attaches user routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.listUsers)
	rg.POST("/users", h.createUser)
	rg.GET("/users/:id", h.getUser)
}

type createUserRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	DatasetPath string `json:"dataset_path" binding:"required"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "username, display_name and dataset_path are required", nil)
		return
	}

	user := User{
		ID:          uuid.NewString(),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		DatasetPath: req.DatasetPath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Repo.Create(c.Request.Context(), user); err != nil {
		switch {
		case errors.Is(err, ErrExists):
			respond.Error(c, http.StatusConflict, "conflict", "username already taken", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create user", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, user)
}

func (h *Handler) listUsers(c *gin.Context) {
	list, err := h.Repo.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list users", nil)
		return
	}
	if list == nil {
		list = []User{}
	}
	respond.OK(c, list)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.Repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch user", nil)
		}
		return
	}
	respond.OK(c, user)
}
