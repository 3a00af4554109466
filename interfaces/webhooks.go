package interfaces

import (
	"context"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/models"
)

// WebhookService manages tenant endpoint registrations and enqueues
// notification jobs.
type WebhookService interface {
	Register(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error)
	Update(ctx context.Context, webhook *models.Webhook) error
	Delete(ctx context.Context, tenant, webhookID string) error
	Get(ctx context.Context, tenant, webhookID string) (*models.Webhook, error)
	List(ctx context.Context, tenant string) ([]models.Webhook, error)
	ListLogs(ctx context.Context, tenant, webhookID string, limit int) ([]models.WebhookLog, error)

	// Notify enqueues a webhook job for the endpoint; delivery happens
	// asynchronously in the dispatcher pool with its own retry schedule.
	Notify(ctx context.Context, webhookID string, eventType enum.LifecycleEventType, payload models.JSONMap) (*models.WebhookJob, error)
	// NotifySubscribers fans one lifecycle event out to every enabled
	// webhook of the tenant subscribed to the event type.
	NotifySubscribers(ctx context.Context, tenant string, eventType enum.LifecycleEventType, messageID string, payload models.JSONMap) error
}

// WebhookDispatcherPool runs the HTTP delivery workers.
type WebhookDispatcherPool interface {
	Start(ctx context.Context) error
	Stop()
}

// EventListener is implemented by every RabbitMQ queue consumer.
type EventListener interface {
	Handle(ctx context.Context, baseEvent any) error
	GetEventType() string
	GetQueueName() string
}

// StorageService stores message bodies out-of-line in object storage.
type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
