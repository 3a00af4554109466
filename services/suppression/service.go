package suppression

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type suppressionService struct {
	log     logger.Logger
	entries repository.SuppressionRepository
}

func NewSuppressionService(log logger.Logger, entries repository.SuppressionRepository) interfaces.SuppressionService {
	return &suppressionService{
		log:     log,
		entries: entries,
	}
}

func (s *suppressionService) IsSuppressed(ctx context.Context, tenant, email string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuppressionService.IsSuppressed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	return s.entries.IsSuppressed(ctx, tenant, email)
}

func (s *suppressionService) Add(ctx context.Context, entry *models.SuppressionEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuppressionService.Add")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, entry.Tenant)

	if entry.Email == "" {
		return errors.New("email is required")
	}
	if entry.Reason == "" {
		return errors.New("reason is required")
	}
	entry.Email = utils.NormalizeEmail(entry.Email)

	err := s.entries.Upsert(ctx, entry)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("Suppressed %s for tenant %s, reason %s", entry.Email, entry.Tenant, entry.Reason)
	return nil
}

func (s *suppressionService) Remove(ctx context.Context, tenant, email string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuppressionService.Remove")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	err := s.entries.Delete(ctx, tenant, email)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *suppressionService) List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuppressionService.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.entries.List(ctx, tenant, limit, offset)
}
