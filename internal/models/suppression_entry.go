package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/utils"
)

// SuppressionEntry is a recipient that must not be mailed. Tenant is empty
// for a platform-wide suppression; a tenant entry and a global entry for the
// same address can coexist and both apply.
type SuppressionEntry struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey"`
	Tenant string `gorm:"column:tenant;type:varchar(255);uniqueIndex:idx_suppression_tenant_email" json:"tenant"`
	Email  string `gorm:"column:email;type:varchar(255);uniqueIndex:idx_suppression_tenant_email;not null" json:"email"`

	Reason     enum.SuppressionReason `gorm:"column:reason;type:varchar(50);not null" json:"reason"`
	BounceType enum.BounceType        `gorm:"column:bounce_type;type:varchar(20)" json:"bounceType"`
	Details    string                 `gorm:"column:details;type:text" json:"details"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (SuppressionEntry) TableName() string {
	return "suppression_entries"
}

func (s *SuppressionEntry) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = utils.GenerateNanoIDWithPrefix("sup", 24)
	}
	s.Email = utils.NormalizeEmail(s.Email)
	s.CreatedAt = utils.Now()
	return nil
}

func (s *SuppressionEntry) IsGlobal() bool {
	return s.Tenant == ""
}
