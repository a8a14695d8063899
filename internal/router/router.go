package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/handler"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Session       *handler.SessionHandler
	Assignment    *handler.AssignmentHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// draftLimiter may be nil.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	draftLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(auth), middleware.NoStore())
	{
		studentAPI.GET("/assignments/:assignment_id/paper", handlers.StudentPortal.GetPaper)
		studentAPI.GET("/assignments/:assignment_id/state", handlers.StudentPortal.GetState)

		draft := []gin.HandlerFunc{handlers.StudentPortal.SaveDraft}
		if draftLimiter != nil {
			draft = append([]gin.HandlerFunc{draftLimiter.Middleware()}, draft...)
		}
		studentAPI.PUT("/assignments/:assignment_id/draft", draft...)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(auth))
	{
		ws.GET("/student/assignments/:assignment_id/session", handlers.Session.Stream)
	}

	// ─── 3. Instructor Group (JWT + RBAC) ──────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(auth))
	{
		instructorAPI.GET("/assignments/:assignment_id/monitor",
			middleware.RequirePermission(service.PermissionAssignmentsMonitor),
			handlers.Monitor.MonitorAssignmentSSE,
		)
		instructorAPI.POST("/assignments/:assignment_id/cache/refresh",
			middleware.RequirePermission(service.PermissionAssignmentsWrite),
			handlers.Assignment.RefreshCache,
		)
		instructorAPI.GET("/system/status",
			middleware.RequirePermission(service.PermissionSystemRead),
			handlers.System.SystemStatusSSE,
		)
	}

	return router
}
