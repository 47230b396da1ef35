package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/federation"
	"github.com/mrlokans/secrets/internal/logging"
)

const hstsMaxAge = 180 * 24 * 60 * 60

// Router is the configured gin engine plus the controllers holding
// background resources.
type Router struct {
	*gin.Engine
	authController *auth.AuthController
}

// Close stops background work started by the controllers.
func (r *Router) Close() {
	r.authController.Stop()
}

// NewRouter creates and configures the HTTP router with all endpoints.
// Every route except the gate's public list requires a session.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(logging.GinLogger(logger.Named("http")))
	router.Use(gin.Recovery())

	// Apply security headers to all responses
	router.Use(auth.SecurityHeadersMiddleware())
	if cfg.SecureCookies {
		router.Use(auth.StrictTransportSecurityMiddleware(hstsMaxAge))
	}

	// CSRF runs before the gate so a forged form post is rejected before
	// any session lookup
	if len(cfg.CSRFSecret) > 0 {
		router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, cfg.SecureCookies))
	}

	router.Use(auth.NewGate(cfg.Sessions, logger).Handler())

	if cfg.StaticPath != "" {
		router.Static("/static", cfg.StaticPath)
	}

	var providers []string
	if cfg.Federation != nil {
		providers = cfg.Federation.Providers()
	}

	pages := loadPages(cfg.TemplatesPath, logger.Named("pages"))

	// Health endpoints
	health := NewHealthController(cfg.Database, cfg.Version)
	router.GET("/health", health.Status)
	router.GET("/ping", health.Ping)

	router.GET("/", func(c *gin.Context) {
		pages.render(c, http.StatusOK, "home.html", gin.H{
			"authenticated": auth.IsAuthenticated(c),
			"providers":     providers,
		})
	})

	authController := auth.NewAuthController(auth.AuthControllerConfig{
		Service:       cfg.AuthService,
		Sessions:      cfg.Sessions,
		Auditor:       cfg.Auditor,
		Logger:        logger,
		TemplatesPath: cfg.TemplatesPath,
		RateLimit:     cfg.RateLimit,
		Providers:     providers,
	})
	authController.RegisterRoutes(router)

	if cfg.Federation != nil {
		federation.NewController(federation.ControllerConfig{
			Strategy:      cfg.Federation,
			Sessions:      cfg.Sessions,
			Auditor:       cfg.Auditor,
			Logger:        logger,
			SecureCookies: cfg.SecureCookies,
		}).RegisterRoutes(router)
	}

	secrets := NewSecretsController(cfg.AuthService, cfg.Auditor, pages, logger.Named("secrets"))
	router.GET("/secrets", secrets.Secrets)
	router.GET("/submit", secrets.SubmitPage)
	router.POST("/submit", secrets.Submit)

	if cfg.AuditReader != nil {
		auditController := NewAuditController(cfg.AuditReader, logger.Named("audit"))
		router.GET("/api/audit", auditController.GetAuditEvents)
	}

	// Task management endpoints
	if cfg.TaskQueue != nil {
		tasksController := NewTasksController(cfg.TaskQueue, cfg.AuditRetentionDays, logger.Named("tasks"))
		router.GET("/api/tasks/types", tasksController.ListTaskTypes)
		router.GET("/api/tasks/:id", tasksController.GetTaskStatus)
		router.POST("/api/tasks/:type/run", tasksController.RunTask)
	}

	return &Router{Engine: router, authController: authController}
}
