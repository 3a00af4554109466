package webhooks

import (
	"context"
	"net/url"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type webhookService struct {
	log  logger.Logger
	repo repository.WebhookRepository
}

func NewWebhookService(log logger.Logger, repo repository.WebhookRepository) interfaces.WebhookService {
	return &webhookService{
		log:  log,
		repo: repo,
	}
}

func (s *webhookService) Register(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.Register")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, webhook.Tenant)

	if webhook.Tenant == "" {
		return nil, er.ErrTenantMissing
	}
	if err := validateEndpointURL(webhook.URL); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if webhook.Secret == "" {
		webhook.Secret = utils.GenerateNanoIDWithPrefix("whsec", 32)
	}
	webhook.Enabled = true

	err := s.repo.Create(ctx, webhook)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	s.log.Infof("Registered webhook %s for tenant %s", webhook.ID, webhook.Tenant)
	return webhook, nil
}

func (s *webhookService) Update(ctx context.Context, webhook *models.Webhook) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.Update")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, webhook.Tenant)

	existing, err := s.repo.GetByID(ctx, webhook.Tenant, webhook.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if webhook.URL != "" && webhook.URL != existing.URL {
		if err := validateEndpointURL(webhook.URL); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		existing.URL = webhook.URL
	}
	existing.Enabled = webhook.Enabled
	if webhook.EventTypes != nil {
		existing.EventTypes = webhook.EventTypes
	}
	if webhook.MaxRetries > 0 {
		existing.MaxRetries = webhook.MaxRetries
	}
	if webhook.TimeoutMs > 0 {
		existing.TimeoutMs = webhook.TimeoutMs
	}

	err = s.repo.Update(ctx, existing)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *webhookService) Delete(ctx context.Context, tenant, webhookID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	err := s.repo.Delete(ctx, tenant, webhookID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *webhookService) Get(ctx context.Context, tenant, webhookID string) (*models.Webhook, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	return s.repo.GetByID(ctx, tenant, webhookID)
}

func (s *webhookService) List(ctx context.Context, tenant string) ([]models.Webhook, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	return s.repo.List(ctx, tenant)
}

func (s *webhookService) ListLogs(ctx context.Context, tenant, webhookID string, limit int) ([]models.WebhookLog, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.ListLogs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListLogsByWebhook(ctx, tenant, webhookID, limit, 0)
}

func (s *webhookService) Notify(ctx context.Context, webhookID string, eventType enum.LifecycleEventType, payload models.JSONMap) (*models.WebhookJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.Notify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	tenant := utils.GetTenantFromContext(ctx)
	if tenant == "" {
		return nil, er.ErrTenantMissing
	}

	webhook, err := s.repo.GetByID(ctx, tenant, webhookID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if !webhook.Enabled {
		return nil, er.ErrWebhookDisabled
	}

	messageID, _ := payload["messageId"].(string)
	job := &models.WebhookJob{
		Tenant:      tenant,
		WebhookID:   webhook.ID,
		EventType:   eventType,
		MessageID:   messageID,
		Payload:     payload,
		MaxRetries:  webhook.MaxRetries,
		Status:      enum.WebhookJobStatusPending,
		ScheduledAt: utils.Now(),
	}
	err = s.repo.CreateJob(ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return job, nil
}

func (s *webhookService) NotifySubscribers(ctx context.Context, tenant string, eventType enum.LifecycleEventType, messageID string, payload models.JSONMap) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WebhookService.NotifySubscribers")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagTenant(span, tenant)
	span.LogKV("event_type", eventType.String())

	webhooks, err := s.repo.ListEnabledByTenant(ctx, tenant)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	for i := range webhooks {
		webhook := &webhooks[i]
		if !webhook.SubscribedTo(eventType) {
			continue
		}
		job := &models.WebhookJob{
			Tenant:      tenant,
			WebhookID:   webhook.ID,
			EventType:   eventType,
			MessageID:   messageID,
			Payload:     payload,
			MaxRetries:  webhook.MaxRetries,
			Status:      enum.WebhookJobStatusPending,
			ScheduledAt: utils.Now(),
		}
		if err := s.repo.CreateJob(ctx, job); err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("Failed to enqueue webhook job for webhook %s: %v", webhook.ID, err)
		}
	}
	return nil
}

func validateEndpointURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}
