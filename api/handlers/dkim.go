package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// DkimKeyRequest represents the API request to create or rotate a key
type DkimKeyRequest struct {
	Domain   string `json:"domain"`
	Selector string `json:"selector"`
}

type DkimHandler struct {
	dkimService interfaces.DkimService
}

func NewDkimHandler(dkimService interfaces.DkimService) *DkimHandler {
	return &DkimHandler{dkimService: dkimService}
}

// GenerateKey creates and activates a signing key for a domain
func (h *DkimHandler) GenerateKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DkimHandler.GenerateKey", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request DkimKeyRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}
		if request.Domain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
			return
		}

		key, err := h.dkimService.GenerateKey(ctx, utils.GetTenantFromContext(ctx), request.Domain, request.Selector)
		if err != nil {
			h.respondWithError(c, span, http.StatusConflict, "Failed to generate key", err)
			return
		}

		c.JSON(http.StatusCreated, keyResponse(key))
	}
}

// Rotate replaces the active signing key with a fresh one
func (h *DkimHandler) Rotate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DkimHandler.Rotate", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		var request DkimKeyRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondWithError(c, span, http.StatusBadRequest, "Invalid request format", err)
			return
		}
		if request.Domain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
			return
		}

		key, err := h.dkimService.Rotate(ctx, utils.GetTenantFromContext(ctx), request.Domain, request.Selector)
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to rotate key", err)
			return
		}

		c.JSON(http.StatusOK, keyResponse(key))
	}
}

// ListKeys returns every key recorded for a domain, retired keys included
func (h *DkimHandler) ListKeys() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DkimHandler.ListKeys", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		domain := c.Query("domain")
		if domain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "domain query parameter is required"})
			return
		}

		keys, err := h.dkimService.ListKeys(ctx, domain)
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to list keys", err)
			return
		}

		response := make([]gin.H, 0, len(keys))
		for i := range keys {
			response = append(response, keyResponse(&keys[i]))
		}
		c.JSON(http.StatusOK, gin.H{"keys": response})
	}
}

// DNSRecord returns the TXT record to publish for the active key
func (h *DkimHandler) DNSRecord() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DkimHandler.DNSRecord", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		domain := c.Query("domain")
		if domain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "domain query parameter is required"})
			return
		}
		selector := c.Query("selector")

		name, value, err := h.dkimService.DNSRecord(ctx, domain, selector)
		if err != nil {
			if errors.Is(err, er.ErrNoActiveKey) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active key for domain"})
				return
			}
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to render DNS record", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"name":  name,
			"type":  "TXT",
			"value": value,
		})
	}
}

func (h *DkimHandler) respondWithError(c *gin.Context, span opentracing.Span, statusCode int, message string, err error) {
	tracing.TraceErr(span, err)
	c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
}

// keyResponse shapes a key for API output. Private key material never
// leaves the service.
func keyResponse(key *models.DkimKey) gin.H {
	return gin.H{
		"id":            key.ID,
		"domain":        key.Domain,
		"selector":      key.Selector,
		"algorithm":     key.Algorithm,
		"keySize":       key.KeySize,
		"isActive":      key.IsActive != nil && *key.IsActive,
		"dnsRecordName": key.DNSRecordName(),
		"publicKey":     key.PublicKey,
		"expiresAt":     key.ExpiresAt,
		"createdAt":     key.CreatedAt,
	}
}
