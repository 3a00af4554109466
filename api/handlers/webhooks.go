package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// RegisterWebhookRequest represents the API request to register an endpoint
type RegisterWebhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes"`
	MaxRetries int      `json:"maxRetries"`
	TimeoutMs  int      `json:"timeoutMs"`
}

// UpdateWebhookRequest represents the API request to update an endpoint
type UpdateWebhookRequest struct {
	URL        string   `json:"url"`
	Enabled    bool     `json:"enabled"`
	EventTypes []string `json:"eventTypes"`
	MaxRetries int      `json:"maxRetries"`
	TimeoutMs  int      `json:"timeoutMs"`
}

type WebhooksHandler struct {
	webhookService interfaces.WebhookService
}

func NewWebhooksHandler(webhookService interfaces.WebhookService) *WebhooksHandler {
	return &WebhooksHandler{webhookService: webhookService}
}

// Register creates a new webhook endpoint for the tenant. The signing
// secret is returned once in the response and never again.
func (h *WebhooksHandler) Register() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.Register", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request RegisterWebhookRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}

		webhook := &models.Webhook{
			Tenant:     utils.GetTenantFromContext(ctx),
			URL:        request.URL,
			EventTypes: pq.StringArray(request.EventTypes),
			MaxRetries: request.MaxRetries,
			TimeoutMs:  request.TimeoutMs,
		}

		created, err := h.webhookService.Register(ctx, webhook)
		if err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Failed to register webhook", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":      created.ID,
			"url":     created.URL,
			"secret":  created.Secret,
			"enabled": created.Enabled,
		})
	}
}

// Update modifies an existing webhook endpoint
func (h *WebhooksHandler) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.Update", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request UpdateWebhookRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}

		webhook := &models.Webhook{
			ID:         c.Param("id"),
			Tenant:     utils.GetTenantFromContext(ctx),
			URL:        request.URL,
			Enabled:    request.Enabled,
			EventTypes: pq.StringArray(request.EventTypes),
			MaxRetries: request.MaxRetries,
			TimeoutMs:  request.TimeoutMs,
		}

		if err := h.webhookService.Update(ctx, webhook); err != nil {
			if errors.Is(err, er.ErrWebhookNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to update webhook", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "updated", "id": webhook.ID})
	}
}

// Delete removes a webhook endpoint
func (h *WebhooksHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.Delete", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		id := c.Param("id")
		if err := h.webhookService.Delete(ctx, utils.GetTenantFromContext(ctx), id); err != nil {
			if errors.Is(err, er.ErrWebhookNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to delete webhook", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
	}
}

// Get returns a single webhook endpoint
func (h *WebhooksHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.Get", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		webhook, err := h.webhookService.Get(ctx, utils.GetTenantFromContext(ctx), c.Param("id"))
		if err != nil {
			if errors.Is(err, er.ErrWebhookNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch webhook", err)
			return
		}

		c.JSON(http.StatusOK, webhook)
	}
}

// List returns all webhook endpoints for the tenant
func (h *WebhooksHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.List", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		webhooks, err := h.webhookService.List(ctx, utils.GetTenantFromContext(ctx))
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to list webhooks", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
	}
}

// ListLogs returns the delivery attempt history of a webhook endpoint
func (h *WebhooksHandler) ListLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "WebhooksHandler.ListLogs", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		logs, err := h.webhookService.ListLogs(ctx, utils.GetTenantFromContext(ctx), c.Param("id"), limit)
		if err != nil {
			if errors.Is(err, er.ErrWebhookNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to list webhook logs", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}

func (h *WebhooksHandler) respondWithError(c *gin.Context, span opentracing.Span, statusCode int, message string, err error) {
	tracing.TraceErr(span, err)
	c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
}
