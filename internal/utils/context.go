package utils

import (
	"context"

	"github.com/gin-gonic/gin"
)

// CustomContext travels with every request and worker job, carrying the
// identity the repositories and publishers need.
type CustomContext struct {
	AppSource string
	Tenant    string
}

type contextKey struct{}

var customContextKey = contextKey{}

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func WithCustomContextFromGinRequest(c *gin.Context, appSource string) context.Context {
	return WithCustomContext(c.Request.Context(), &CustomContext{
		AppSource: appSource,
		Tenant:    c.GetString("tenant"),
	})
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func GetAppSourceFromContext(ctx context.Context) string {
	return GetContext(ctx).AppSource
}

func GetTenantFromContext(ctx context.Context) string {
	return GetContext(ctx).Tenant
}

// SetTenantInContext is used by workers and listeners that act on behalf of
// the job's tenant rather than a request.
func SetTenantInContext(ctx context.Context, tenant string) context.Context {
	customContext := *GetContext(ctx)
	customContext.Tenant = tenant
	return WithCustomContext(ctx, &customContext)
}
