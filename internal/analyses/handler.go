package analyses

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"devin-backend/internal/devin"
	"devin-backend/internal/shared/server/middleware"
	"devin-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches session routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/devin/analyze", h.startAnalysis)
	rg.GET("/devin/analysis", h.getAnalysis)
	rg.DELETE("/devin/analysis", h.deleteAnalysis)
	rg.POST("/devin/fix", h.startFix)
	rg.GET("/devin/fix", h.getFix)
}

type startRequest struct {
	GithubURL  string `json:"github_url"`
	IssueID    int64  `json:"issue_id"`
	IssueTitle string `json:"issue_title"`
	Plan       string `json:"plan"`
}

func (r startRequest) key() Key {
	return Key{Repository: strings.TrimSpace(r.GithubURL), IssueID: r.IssueID}
}

func (h *Handler) startAnalysis(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	res, err := h.Svc.StartAnalysis(requestContext(c), req.key(), req.IssueTitle)
	h.writeStart(c, res, err)
}

func (h *Handler) startFix(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	res, err := h.Svc.StartFix(requestContext(c), req.key(), req.IssueTitle, req.Plan)
	h.writeStart(c, res, err)
}

func (h *Handler) writeStart(c *gin.Context, res StartResult, err error) {
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidKey):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		case errors.Is(err, ErrPlanRequired):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "plan is required", []map[string]string{
				{"field": "plan", "issue": "required"},
			})
		case errors.Is(err, devin.ErrRemoteUnavailable):
			respond.Error(c, http.StatusInternalServerError, ErrorCodeUpstream, "Failed to create Devin session: "+err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to start session", nil)
		}
		return
	}

	status := http.StatusAccepted
	if res.Created {
		status = http.StatusCreated
	}
	respond.JSON(c, status, res)
}

func (h *Handler) getAnalysis(c *gin.Context) {
	key, ok := keyFromQuery(c)
	if !ok {
		return
	}
	view, err := h.Svc.GetStatus(requestContext(c), key)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to fetch analysis", nil)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) getFix(c *gin.Context) {
	key, ok := keyFromQuery(c)
	if !ok {
		return
	}
	view, err := h.Svc.GetFixStatus(requestContext(c), key)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to fetch fix", nil)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	key, ok := keyFromQuery(c)
	if !ok {
		return
	}
	if err := h.Svc.Delete(requestContext(c), key); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "Analysis not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to delete analysis", nil)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func keyFromQuery(c *gin.Context) (Key, bool) {
	issueID, err := strconv.ParseInt(strings.TrimSpace(c.Query("issue_id")), 10, 64)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "issue_id must be an integer", nil)
		return Key{}, false
	}
	key := Key{Repository: strings.TrimSpace(c.Query("github_url")), IssueID: issueID}
	if err := key.Validate(); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
		return Key{}, false
	}
	return key, true
}

func requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}
