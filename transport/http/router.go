package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veltis-io/veltis-api/metrics"
	"github.com/veltis-io/veltis-api/service"
	"go.uber.org/zap"
)

// RouterOptions configures the HTTP surface around the auth service
type RouterOptions struct {
	CORSOrigin string
	Health     HealthCheck
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
			abortWithError(c, http.StatusInternalServerError, msgInternal)
		}),
		RequestLogger(logger),
		Metrics(opts.Metrics),
		CORS(opts.CORSOrigin),
	)
	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "Not found")
	})
	router.NoMethod(func(c *gin.Context) {
		abortWithError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	handlers := NewAuthHandlers(authService, opts.Health, logger)

	router.GET("/healthz", handlers.Health)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Auth routes
	auth := router.Group("/api/auth")
	{
		auth.POST("/nonce", handlers.Nonce)
		auth.POST("/verify", handlers.Verify)
	}

	// Protected routes
	protected := router.Group("/api/auth")
	protected.Use(AuthMiddleware(authService, logger))
	{
		protected.GET("/user", handlers.User)
		protected.POST("/logout", handlers.Logout)
	}

	return router
}
