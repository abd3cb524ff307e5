package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"devin-backend/internal/analyses"
	"devin-backend/internal/issues"
	"devin-backend/internal/services/health"
	"devin-backend/internal/shared/config"
	"devin-backend/internal/shared/metrics"
	"devin-backend/internal/shared/server/middleware"
	"devin-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers mounted by NewRouter.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	IssuesHandler   *issues.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(middleware.RateLimitConfig{
			RPS:    deps.Config.RateLimitRPS,
			Burst:  deps.Config.RateLimitBurst,
			Exempt: isProbe,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.GET("/health", healthHandler(deps.Health))
	if deps.IssuesHandler != nil {
		deps.IssuesHandler.RegisterRoutes(api)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := svc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
}

func isProbe(c *gin.Context) bool {
	switch c.FullPath() {
	case "/api/health", "/metrics":
		return true
	}
	return false
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
