package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/sendstack/internal/utils"
)

// DkimKey is the signing credential for a sending domain. Rotation creates a
// new key and deactivates the old one; keys are never hard-deleted while
// signature logs reference them.
type DkimKey struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey"`
	Tenant   string `gorm:"column:tenant;type:varchar(255);index;not null"`
	Domain   string `gorm:"column:domain;type:varchar(255);uniqueIndex:idx_dkim_domain_selector_active;not null"`
	Selector string `gorm:"column:selector;type:varchar(100);uniqueIndex:idx_dkim_domain_selector_active;default:'default'"`

	// PEM-encoded PKCS#1 private key and base64 public key for the DNS record.
	PrivateKey string `gorm:"column:private_key;type:text;not null"`
	PublicKey  string `gorm:"column:public_key;type:text;not null"`

	Algorithm        string `gorm:"column:algorithm;type:varchar(50);default:'rsa-sha256'"`
	Canonicalization string `gorm:"column:canonicalization;type:varchar(50);default:'relaxed/relaxed'"`
	KeySize          int    `gorm:"column:key_size;default:2048"`

	// IsActive is nullable on purpose: postgres unique indexes ignore NULLs,
	// so (domain, selector, is_active=true) can exist at most once while any
	// number of deactivated keys remain for the audit trail.
	IsActive  *bool      `gorm:"column:is_active;uniqueIndex:idx_dkim_domain_selector_active"`
	ExpiresAt *time.Time `gorm:"column:expires_at;type:timestamp"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (DkimKey) TableName() string {
	return "dkim_keys"
}

func (k *DkimKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = utils.GenerateNanoIDWithPrefix("dkim", 24)
	}
	k.CreatedAt = utils.Now()
	return nil
}

func (k *DkimKey) Active() bool {
	return k.IsActive != nil && *k.IsActive
}

// DNSRecordName returns the TXT record owner name for publishing the key.
func (k *DkimKey) DNSRecordName() string {
	return k.Selector + "._domainkey." + k.Domain
}
