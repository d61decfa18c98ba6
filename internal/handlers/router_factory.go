package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"

	"skillmodel/internal/config"
	"skillmodel/internal/middleware"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	"skillmodel/internal/version"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps are the services behind the HTTP surface. Worker and DB may be nil.
type RouterDeps struct {
	Analysis    services.AnalysisServiceInterface
	Proficiency services.ProficiencyServiceInterface
	Signals     services.SignalServiceInterface
	Workers     services.WorkerServiceInterface
	Worker      WorkerController
	DB          Pinger
}

// NewRouter creates the gin engine with middleware and every route of the worker process
func NewRouter(cfg *config.Config, deps RouterDeps, logger *observability.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
	if cfg.IsTest {
		gin.SetMode(gin.TestMode)
	}

	router := gin.New()
	router.Use(middleware.ErrorRecoveryMiddleware(logger, nil))
	router.Use(requestLogger(logger))
	router.Use(observability.GinMiddlewareWithErrorHandling(serviceName(cfg)))

	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	secureConfig.ContentSecurityPolicy = config.DefaultCSP
	secureConfig.IsDevelopment = cfg.Server.Debug || cfg.IsTest
	router.Use(secure.New(secureConfig))

	analysisHandler := NewAnalysisHandler(deps.Analysis, deps.Proficiency, deps.Signals, cfg, logger)
	workerAdminHandler := NewWorkerAdminHandlerWithLogger(cfg, deps.Worker, deps.Workers, logger)
	routeListing := NewRouteListingHandler(serviceName(cfg))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", healthHandler(deps.DB))
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"service":   serviceName(cfg),
				"version":   version.Version,
				"commit":    version.Commit,
				"buildTime": version.BuildTime,
			})
		})

		v1.POST("/analysis/sessions/:sessionId", analysisHandler.AnalyzeSession)

		users := v1.Group("/users/:userId")
		{
			users.GET("/signal", analysisHandler.GetSignal)
			users.GET("/proficiency", analysisHandler.GetProficiency)
		}

		admin := v1.Group("/admin")
		if cfg.Server.AdminUsername != "" {
			admin.Use(gin.BasicAuth(gin.Accounts{cfg.Server.AdminUsername: cfg.Server.AdminPassword}))
		}
		{
			admin.GET("/routes", routeListing.GetRouteListingJSON)

			workerGroup := admin.Group("/worker")
			{
				workerGroup.GET("/status", workerAdminHandler.GetWorkerDetails)
				workerGroup.GET("/logs", workerAdminHandler.GetActivityLogs)
				workerGroup.GET("/health", workerAdminHandler.GetSystemHealth)
				workerGroup.POST("/pause", workerAdminHandler.PauseWorker)
				workerGroup.POST("/resume", workerAdminHandler.ResumeWorker)
				workerGroup.POST("/trigger", workerAdminHandler.TriggerWorkerRun)
				workerGroup.POST("/users/pause", workerAdminHandler.PauseWorkerUser)
				workerGroup.POST("/users/resume", workerAdminHandler.ResumeWorkerUser)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		StandardizeHTTPError(c, http.StatusNotFound, "Not found", c.Request.URL.Path)
	})

	routeListing.CollectRoutes(router)
	return router
}

func serviceName(cfg *config.Config) string {
	if cfg.OpenTelemetry.ServiceName != "" {
		return cfg.OpenTelemetry.ServiceName
	}
	return config.DefaultServiceName
}

func healthHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// requestLogger logs every request at a level matching its status code
func requestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  time.Since(start).Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Debug(c.Request.Context(), "HTTP request", fields)
		}
	}
}
