package issues

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"devin-backend/internal/shared/server/middleware"
	"devin-backend/internal/shared/server/respond"
	"devin-backend/internal/shared/telemetry"
)

// Handler serves the issue listing. A nil Lister means no token was configured.
type Handler struct {
	Lister Lister
}

// NewHandler constructs a Handler.
func NewHandler(lister Lister) *Handler {
	return &Handler{Lister: lister}
}

// RegisterRoutes attaches issue routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/issues", h.list)
}

func (h *Handler) list(c *gin.Context) {
	githubURL := c.Query("github_url")
	if _, err := ParseRepository(githubURL); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if h.Lister == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", ErrNotConfigured.Error(), nil)
		return
	}

	issues, err := h.Lister.ListOpen(c.Request.Context(), githubURL)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list issues", nil)
			return
		}
		telemetry.Warn("issues.list_failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"github_url": githubURL,
			"status":     apiErr.StatusCode,
			"error":      err,
		})
		issues = []Issue{}
	}
	respond.OK(c, issues)
}
