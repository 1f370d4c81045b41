package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpwizard/internal/handlers"
	"github.com/imyashkale/mcpwizard/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the cross-cutting middleware
type Options struct {
	AllowedOrigins []string
	// Authenticator validates the bearer token; nil uses the unverified development parser
	Authenticator gin.HandlerFunc
	RateLimiter   *middleware.RateLimiter
}

// Setup configures and returns the application router
func Setup(
	opts Options,
	healthHandler *handlers.HealthHandler,
	wizardHandler *handlers.WizardHandler,
) *gin.Engine {

	// Create a new Gin router
	router := gin.Default()

	// Apply CORS middleware globally
	router.Use(middleware.CORS(opts.AllowedOrigins))

	// Prometheus scrape endpoint, unauthenticated
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Health check
	v1.GET("/health", healthHandler.Check)

	auth := opts.Authenticator
	if auth == nil {
		auth = middleware.Authentication()
	}

	// Wizard routes
	sessions := v1.Group("/wizard/sessions")
	sessions.Use(auth)
	{
		sessions.GET("", wizardHandler.List)
		sessions.GET("/:server_id", wizardHandler.GetState)
	}

	// Mutating routes are rate limited per user
	mutating := sessions.Group("")
	if opts.RateLimiter != nil {
		mutating.Use(opts.RateLimiter.Middleware())
	}
	{
		mutating.POST("", wizardHandler.Start)
		mutating.POST("/:server_id/tools", wizardHandler.SubmitTools)
		mutating.POST("/:server_id/tools/refine", wizardHandler.RefineTools)
		mutating.POST("/:server_id/env-vars", wizardHandler.SubmitEnvVars)
		mutating.POST("/:server_id/env-vars/refine", wizardHandler.RefineEnvVars)
		mutating.POST("/:server_id/code", wizardHandler.GenerateCode)
		mutating.POST("/:server_id/activate", wizardHandler.Activate)
		mutating.POST("/:server_id/retry", wizardHandler.Retry)
	}

	return router
}
