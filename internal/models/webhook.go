package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/utils"
)

// Webhook is a tenant-registered endpoint for lifecycle notifications.
type Webhook struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Tenant string `gorm:"column:tenant;type:varchar(255);index;not null" json:"tenant"`

	URL     string `gorm:"column:url;type:varchar(1000);not null" json:"url"`
	Secret  string `gorm:"column:secret;type:varchar(255)" json:"-"`
	Enabled bool   `gorm:"column:enabled;default:true" json:"enabled"`

	// Events the endpoint subscribes to; empty means all lifecycle events.
	EventTypes pq.StringArray `gorm:"column:event_types;type:text[]" json:"eventTypes"`

	MaxRetries int `gorm:"column:max_retries;default:3" json:"maxRetries"`
	TimeoutMs  int `gorm:"column:timeout_ms;default:30000" json:"timeoutMs"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = utils.GenerateNanoIDWithPrefix("hook", 24)
	}
	w.CreatedAt = utils.Now()
	return nil
}

// SubscribedTo reports whether the webhook wants the given event type.
func (w *Webhook) SubscribedTo(eventType enum.LifecycleEventType) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, et := range w.EventTypes {
		if et == eventType.String() {
			return true
		}
	}
	return false
}

// WebhookJob is one outbound notification. Status reflects only the latest
// attempt; per-attempt history is in WebhookLog.
type WebhookJob struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Tenant    string `gorm:"column:tenant;type:varchar(255);index;not null" json:"tenant"`
	WebhookID string `gorm:"column:webhook_id;type:varchar(50);index;not null" json:"webhookId"`

	EventType enum.LifecycleEventType `gorm:"column:event_type;type:varchar(50);not null" json:"eventType"`
	MessageID string                  `gorm:"column:message_id;type:varchar(255);index" json:"messageId"`
	Payload   JSONMap                 `gorm:"column:payload;type:jsonb" json:"payload"`

	Attempt     int                   `gorm:"column:attempt;default:0" json:"attempt"`
	MaxRetries  int                   `gorm:"column:max_retries;default:3" json:"maxRetries"`
	Status      enum.WebhookJobStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	ScheduledAt time.Time             `gorm:"column:scheduled_at;type:timestamp;index;not null" json:"scheduledAt"`
	ProcessedAt *time.Time            `gorm:"column:processed_at;type:timestamp" json:"processedAt"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (WebhookJob) TableName() string {
	return "webhook_jobs"
}

func (j *WebhookJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = utils.GenerateNanoIDWithPrefix("whj", 24)
	}
	j.CreatedAt = utils.Now()
	return nil
}

// WebhookLog is the append-only audit record of a single HTTP attempt.
// Rows are never mutated or deleted.
type WebhookLog struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	WebhookJobID string `gorm:"column:webhook_job_id;type:varchar(50);index;not null" json:"webhookJobId"`

	Attempt      int    `gorm:"column:attempt;not null" json:"attempt"`
	StatusCode   int    `gorm:"column:status_code" json:"statusCode"`
	ResponseBody string `gorm:"column:response_body;type:text" json:"responseBody"`
	Success      bool   `gorm:"column:success;default:false" json:"success"`
	ErrorMessage string `gorm:"column:error_message;type:text" json:"errorMessage"`
	DurationMs   int64  `gorm:"column:duration_ms" json:"durationMs"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

func (l *WebhookLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = utils.GenerateNanoIDWithPrefix("whl", 24)
	}
	l.CreatedAt = utils.Now()
	return nil
}
