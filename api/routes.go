package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/api/handlers"
	"github.com/customeros/sendstack/api/middleware"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(
		s.DeliveryService,
		s.SuppressionService,
		s.WebhookService,
		s.DkimService,
		s.ReputationService,
	)

	// Health check endpoint (no custom context needed)
	r.GET("/health", handlers.HealthCheck)

	// API group with version and custom context
	api := r.Group("/v1")
	api.Use(middleware.APIKeyMiddleware("X-SENDSTACK-API-KEY", apikey))
	api.Use(middleware.TenantValidationMiddleware())
	api.Use(middleware.CustomContextMiddleware("sendstack")) // Add custom context for all /v1/* endpoints
	api.Use(middleware.TracingMiddleware())                  // Add tracing for all /v1/* endpoints
	{
		// Message endpoints
		messages := api.Group("/messages")
		{
			messages.POST("", apiHandlers.Messages.Enqueue())
			messages.GET("", apiHandlers.Messages.GetByMessageID())
			messages.GET("/stats", apiHandlers.Messages.Stats())
			messages.GET("/:id", apiHandlers.Messages.Get())
			messages.DELETE("/:id", apiHandlers.Messages.Cancel())
		}

		// Suppression endpoints
		suppressions := api.Group("/suppressions")
		{
			suppressions.GET("", apiHandlers.Suppressions.List())
			suppressions.POST("", apiHandlers.Suppressions.Add())
			suppressions.DELETE("/:email", apiHandlers.Suppressions.Remove())
		}

		// Webhook endpoints
		webhooks := api.Group("/webhooks")
		{
			webhooks.GET("", apiHandlers.Webhooks.List())
			webhooks.POST("", apiHandlers.Webhooks.Register())
			webhooks.GET("/:id", apiHandlers.Webhooks.Get())
			webhooks.PUT("/:id", apiHandlers.Webhooks.Update())
			webhooks.DELETE("/:id", apiHandlers.Webhooks.Delete())
			webhooks.GET("/:id/logs", apiHandlers.Webhooks.ListLogs())
		}

		// DKIM endpoints
		dkim := api.Group("/dkim")
		{
			dkim.POST("/keys", apiHandlers.Dkim.GenerateKey())
			dkim.GET("/keys", apiHandlers.Dkim.ListKeys())
			dkim.POST("/keys/rotate", apiHandlers.Dkim.Rotate())
			dkim.GET("/records", apiHandlers.Dkim.DNSRecord())
		}

		// Reputation endpoints
		reputation := api.Group("/reputation")
		{
			reputation.GET("/domains/:domain", apiHandlers.Reputation.GetDomain())
			reputation.GET("/mx", apiHandlers.Reputation.GetMx())
		}
	}
}
