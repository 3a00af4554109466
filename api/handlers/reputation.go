package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type ReputationHandler struct {
	reputationService interfaces.ReputationService
}

func NewReputationHandler(reputationService interfaces.ReputationService) *ReputationHandler {
	return &ReputationHandler{reputationService: reputationService}
}

// GetDomain returns the current reputation of a sending domain
func (h *ReputationHandler) GetDomain() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ReputationHandler.GetDomain", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		reputation, err := h.reputationService.GetDomainReputation(ctx, c.Param("domain"))
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch domain reputation", err)
			return
		}
		if reputation == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reputation recorded for domain"})
			return
		}

		c.JSON(http.StatusOK, reputation)
	}
}

// GetMx returns the current reputation of a remote MX host for a domain
func (h *ReputationHandler) GetMx() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ReputationHandler.GetMx", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)
		tracing.TagTenant(span, utils.GetTenantFromContext(ctx))

		mxServer := c.Query("mxServer")
		domain := c.Query("domain")
		if mxServer == "" || domain == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mxServer and domain query parameters are required"})
			return
		}

		reputation, err := h.reputationService.GetMxReputation(ctx, mxServer, domain)
		if err != nil {
			h.respondWithError(c, span, http.StatusInternalServerError, "Failed to fetch mx reputation", err)
			return
		}
		if reputation == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reputation recorded for mx server"})
			return
		}

		c.JSON(http.StatusOK, reputation)
	}
}

func (h *ReputationHandler) respondWithError(c *gin.Context, span opentracing.Span, statusCode int, message string, err error) {
	tracing.TraceErr(span, err)
	c.JSON(statusCode, gin.H{"error": message, "details": err.Error()})
}
