package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/utils"
)

// DeliveryJob is one unit of outbound mail work. Created by the compose
// collaborator in pending; every later transition is driven by the worker
// pool. Terminal states are immutable.
type DeliveryJob struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	Tenant    string `gorm:"column:tenant;type:varchar(255);index;not null"`
	MessageID string `gorm:"column:message_id;uniqueIndex;type:varchar(255);not null"`

	FromAddress string `gorm:"column:from_address;type:varchar(255);not null"`
	FromDomain  string `gorm:"column:from_domain;type:varchar(255);index;not null"`
	ToAddress   string `gorm:"column:to_address;type:varchar(255);index;not null"`
	Subject     string `gorm:"column:subject;type:varchar(1000)"`

	// BodyRef points at the message body in object storage; bodies are kept
	// out-of-line so the jobs table stays narrow.
	BodyRef string         `gorm:"column:body_ref;type:varchar(500)"`
	Headers pq.StringArray `gorm:"column:headers;type:text[]"`

	Status   enum.DeliveryStatus `gorm:"column:status;type:varchar(50);index;not null"`
	Priority int                 `gorm:"column:priority;index;default:100"`

	Attempts      int        `gorm:"column:attempts;default:0"`
	MaxAttempts   int        `gorm:"column:max_attempts;default:5"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at;type:timestamp"`
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at;type:timestamp;index"`

	// Lease fields: exactly one worker may hold a processing job; expired
	// leases are reclaimed by the sweeper.
	LeasedBy       *string    `gorm:"column:leased_by;type:varchar(100)"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;type:timestamp;index"`

	BounceType     enum.BounceType `gorm:"column:bounce_type;type:varchar(20);default:'none'"`
	DeliveryReport JSONMap         `gorm:"column:delivery_report;type:jsonb"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (DeliveryJob) TableName() string {
	return "delivery_jobs"
}

func (j *DeliveryJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = utils.GenerateNanoIDWithPrefix("job", 24)
	}
	j.CreatedAt = utils.Now()
	return nil
}

// DeliveryReport is the structured outcome detail of the latest attempt.
// Serialized to jsonb only at the storage boundary.
type DeliveryReport struct {
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	SMTPCode      int    `json:"smtpCode,omitempty"`
	SMTPResponse  string `json:"smtpResponse,omitempty"`
	MXHost        string `json:"mxHost,omitempty"`
	AttemptedAt   string `json:"attemptedAt"`
	DurationMs    int64  `json:"durationMs"`
	WorkerID      string `json:"workerId,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

func (r DeliveryReport) AsJSONMap() JSONMap {
	m := JSONMap{
		"outcome":     r.Outcome,
		"attemptedAt": r.AttemptedAt,
		"durationMs":  r.DurationMs,
	}
	if r.Reason != "" {
		m["reason"] = r.Reason
	}
	if r.SMTPCode != 0 {
		m["smtpCode"] = r.SMTPCode
	}
	if r.SMTPResponse != "" {
		m["smtpResponse"] = r.SMTPResponse
	}
	if r.MXHost != "" {
		m["mxHost"] = r.MXHost
	}
	if r.WorkerID != "" {
		m["workerId"] = r.WorkerID
	}
	if r.FailureReason != "" {
		m["failureReason"] = r.FailureReason
	}
	return m
}
