package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/dto"
	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/services/events"
)

// DeliveryLifecycleListener fans each delivery outcome out to the tenant's
// subscribed webhooks.
type DeliveryLifecycleListener struct {
	events.BaseEventListener
	webhookService interfaces.WebhookService
}

func NewDeliveryLifecycleListener(
	logger logger.Logger, webhookService interfaces.WebhookService,
) interfaces.EventListener {
	return &DeliveryLifecycleListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.DeliveryLifecycle](), // subscribed event
			events.QueueDeliveryLifecycle,                // listening on Direct queue
		),
		webhookService: webhookService,
	}
}

func (l *DeliveryLifecycleListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryLifecycleListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	lifecycle, err := events.DecodeEventData[dto.DeliveryLifecycle](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	eventType := enum.DecodeLifecycleEventType(lifecycle.EventType.String())
	if eventType == "" {
		// Unknown lifecycle kinds are acknowledged, not retried.
		return nil
	}

	payload := models.JSONMap{
		"jobId":      lifecycle.JobID,
		"messageId":  lifecycle.MessageID,
		"toAddress":  lifecycle.ToAddress,
		"fromDomain": lifecycle.FromDomain,
		"attempts":   lifecycle.Attempts,
		"occurredAt": lifecycle.OccurredAt,
	}
	if lifecycle.BounceType != "" && lifecycle.BounceType != enum.BounceTypeNone {
		payload["bounceType"] = lifecycle.BounceType.String()
	}
	if lifecycle.Reason != "" {
		payload["reason"] = lifecycle.Reason
	}

	return l.webhookService.NotifySubscribers(ctx, lifecycle.Tenant, eventType, lifecycle.MessageID, payload)
}
