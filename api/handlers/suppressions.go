package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// AddSuppressionRequest represents the API request to suppress a recipient
type AddSuppressionRequest struct {
	Email      string `json:"email"`
	Reason     string `json:"reason"`
	BounceType string `json:"bounceType"`
	Details    string `json:"details"`
}

type SuppressionsHandler struct {
	suppressionService interfaces.SuppressionService
}

func NewSuppressionsHandler(suppressionService interfaces.SuppressionService) *SuppressionsHandler {
	return &SuppressionsHandler{suppressionService: suppressionService}
}

// Add suppresses a recipient for the tenant
func (h *SuppressionsHandler) Add() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SuppressionsHandler.Add", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request AddSuppressionRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}

		entry := &models.SuppressionEntry{
			Tenant:     utils.GetTenantFromContext(ctx),
			Email:      request.Email,
			Reason:     enum.SuppressionReason(request.Reason),
			BounceType: enum.BounceType(request.BounceType),
			Details:    request.Details,
		}
		if entry.Reason == "" {
			entry.Reason = enum.SuppressionReasonManual
		}

		if err := h.suppressionService.Add(ctx, entry); err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to add suppression", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "suppressed", "email": utils.NormalizeEmail(request.Email)})
	}
}

// Remove lifts a suppression for the tenant
func (h *SuppressionsHandler) Remove() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SuppressionsHandler.Remove", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		email := c.Param("email")
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}

		if err := h.suppressionService.Remove(ctx, utils.GetTenantFromContext(ctx), email); err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to remove suppression", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "removed", "email": utils.NormalizeEmail(email)})
	}
}

// List returns the tenant's suppression entries
func (h *SuppressionsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SuppressionsHandler.List", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		entries, err := h.suppressionService.List(ctx, utils.GetTenantFromContext(ctx), limit, offset)
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to list suppressions", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"suppressions": entries})
	}
}

func (h *SuppressionsHandler) respondWithError(c *gin.Context, span opentracing.Span, statusCode int, message string, err error) {
	tracing.TraceErr(span, err)
	c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
}
