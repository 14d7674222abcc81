package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/exchangestack/api/middleware"
	"github.com/customeros/exchangestack/api/rest/handlers"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/repository"
	"github.com/customeros/exchangestack/internal/tracing"
)

const appSource = "exchangestack"

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, exchangeService interfaces.ExchangeService, publisher interfaces.EventPublisher, repos *repository.Repositories, apiKeys []string) {
	if exchangeService == nil {
		panic("Exchange service cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	accounts := handlers.NewAccountHandler(exchangeService, repos.ExchangeAccountRepository, publisher)

	// Health check, status and metrics endpoints (no custom context needed)
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(exchangeService))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The identity provider redirects the browser here without an API key.
	r.GET("/v1/accounts/:id/oauth/callback",
		middleware.CustomContextMiddleware(appSource),
		middleware.TracingMiddleware(),
		accounts.Callback(),
	)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{Keys: apiKeys})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.CustomContextMiddleware(appSource))
	api.Use(middleware.TracingMiddleware())
	{
		group := api.Group("/accounts")
		{
			group.GET("", accounts.ListAccounts())
			group.POST("", accounts.AddAccount())
			group.GET("/:id", accounts.GetAccount())
			group.DELETE("/:id", accounts.RemoveAccount())

			group.POST("/:id/login", accounts.Login())
			group.POST("/:id/logout", accounts.Logout())
			group.GET("/:id/oauth/authorize", accounts.Authorize())

			group.GET("/:id/folders", accounts.ListFolders())
			group.GET("/:id/messages", accounts.ListMessages())
			group.POST("/:id/messages/read", accounts.MarkRead())
			group.POST("/:id/messages/delete", accounts.DeleteMessages())
			group.POST("/:id/send", accounts.Send())
		}
	}
}
