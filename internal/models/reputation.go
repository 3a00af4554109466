package models

import (
	"time"

	"github.com/customeros/sendstack/internal/enum"
)

// DomainReputation tracks a decaying quality score for a sending domain.
// Mutated only by the worker pool's outcome-recording step with an atomic
// read-modify-write per row.
type DomainReputation struct {
	ID     string `gorm:"primary_key;type:uuid;default:gen_random_uuid()" json:"id"`
	Domain string `gorm:"column:domain;type:varchar(255);uniqueIndex;not null" json:"domain"`

	Score                 float64               `gorm:"column:score;default:100" json:"score"`
	SuccessfulDeliveries  int64                 `gorm:"column:successful_deliveries;default:0" json:"successfulDeliveries"`
	FailedDeliveries      int64                 `gorm:"column:failed_deliveries;default:0" json:"failedDeliveries"`
	BounceRate            float64               `gorm:"column:bounce_rate;default:0" json:"bounceRate"`
	Status                enum.ReputationStatus `gorm:"column:status;type:varchar(20);default:'good'" json:"status"`
	LastSuccess           *time.Time            `gorm:"column:last_success;type:timestamp" json:"lastSuccess"`
	LastFailure           *time.Time            `gorm:"column:last_failure;type:timestamp" json:"lastFailure"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (DomainReputation) TableName() string {
	return "domain_reputations"
}

// MxServerReputation tracks the same rolling quality signal per remote MX
// host and sending domain pair. The worker pool reads the status tier to
// modulate retry backoff.
type MxServerReputation struct {
	ID       string `gorm:"primary_key;type:uuid;default:gen_random_uuid()" json:"id"`
	MxServer string `gorm:"column:mx_server;type:varchar(255);uniqueIndex:idx_mx_reputation_server_domain;not null" json:"mxServer"`
	Domain   string `gorm:"column:domain;type:varchar(255);uniqueIndex:idx_mx_reputation_server_domain;not null" json:"domain"`

	Score                float64               `gorm:"column:score;default:100" json:"score"`
	SuccessfulDeliveries int64                 `gorm:"column:successful_deliveries;default:0" json:"successfulDeliveries"`
	FailedDeliveries     int64                 `gorm:"column:failed_deliveries;default:0" json:"failedDeliveries"`
	BounceRate           float64               `gorm:"column:bounce_rate;default:0" json:"bounceRate"`
	Status               enum.ReputationStatus `gorm:"column:status;type:varchar(20);default:'good'" json:"status"`
	LastSuccess          *time.Time            `gorm:"column:last_success;type:timestamp" json:"lastSuccess"`
	LastFailure          *time.Time            `gorm:"column:last_failure;type:timestamp" json:"lastFailure"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (MxServerReputation) TableName() string {
	return "mx_server_reputations"
}
