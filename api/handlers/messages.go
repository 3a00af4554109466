package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	custom_err "github.com/customeros/sendstack/api/errors"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// EnqueueMessageRequest represents the API request for submitting a message
type EnqueueMessageRequest struct {
	MessageID   string   `json:"messageId"`
	FromAddress string   `json:"fromAddress"`
	ToAddress   string   `json:"toAddress"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Headers     []string `json:"headers"`
	Priority    *int     `json:"priority"`
}

type MessagesHandler struct {
	deliveryService interfaces.DeliveryService
}

func NewMessagesHandler(deliveryService interfaces.DeliveryService) *MessagesHandler {
	return &MessagesHandler{deliveryService: deliveryService}
}

// Enqueue handles the HTTP request to submit a new message for delivery
func (h *MessagesHandler) Enqueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Enqueue", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request EnqueueMessageRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}

		errs := validateEnqueueRequest(&request)
		if errs.HasErrors() {
			tracing.TraceErr(span, errs)
			c.JSON(http.StatusBadRequest, errs)
			return
		}

		job, err := h.deliveryService.Enqueue(ctx, &interfaces.EnqueueMessageRequest{
			MessageID:   request.MessageID,
			FromAddress: request.FromAddress,
			ToAddress:   request.ToAddress,
			Subject:     request.Subject,
			Body:        request.Body,
			Headers:     request.Headers,
			Priority:    request.Priority,
		})
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to enqueue message", err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"id":        job.ID,
			"messageId": job.MessageID,
			"status":    job.Status,
		})
	}
}

// Get returns a delivery job by its id
func (h *MessagesHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Get", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		job, err := h.deliveryService.GetJob(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, er.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch message", err)
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// GetByMessageID returns a delivery job by its caller-supplied message id
func (h *MessagesHandler) GetByMessageID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.GetByMessageID", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		messageID := c.Query("messageId")
		if messageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "messageId query parameter is required"})
			return
		}

		job, err := h.deliveryService.GetJobByMessageID(ctx, messageID)
		if err != nil {
			if errors.Is(err, er.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch message", err)
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// Stats reports the tenant's job counts per delivery status
func (h *MessagesHandler) Stats() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Stats", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		counts, err := h.deliveryService.CountByStatus(ctx)
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch message stats", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"counts": counts})
	}
}

// Cancel aborts a pending delivery job
func (h *MessagesHandler) Cancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Cancel", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		id := c.Param("id")
		if err := h.deliveryService.Cancel(ctx, id); err != nil {
			if errors.Is(err, er.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
				return
			}
			if errors.Is(err, er.ErrJobNotCancellable) {
				c.JSON(http.StatusConflict, gin.H{"error": "message is no longer pending"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to cancel message", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "id": id})
	}
}

// Helper method to respond with an error
func (h *MessagesHandler) respondWithError(c *gin.Context, span opentracing.Span, statusCode int, message string, err error) {
	tracing.TraceErr(span, err)
	c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
}

func validateEnqueueRequest(request *EnqueueMessageRequest) *custom_err.FieldErrors {
	errs := custom_err.NewFieldErrors()

	if request.FromAddress == "" {
		errs.Add("fromAddress", "please provide a valid from address")
	}
	if request.ToAddress == "" {
		errs.Add("toAddress", "please provide a valid to address")
	}
	if request.Body == "" {
		errs.Add("body", "please provide a message body")
	}
	if request.Priority != nil && (*request.Priority < 0 || *request.Priority > 1000) {
		errs.Add("priority", "priority must be between 0 and 1000")
	}

	return errs
}
