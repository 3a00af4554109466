package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/sendstack/internal/models"
)

type Repositories struct {
	DeliveryJobRepository DeliveryJobRepository
	DkimKeyRepository     DkimKeyRepository
	SuppressionRepository SuppressionRepository
	ReputationRepository  ReputationRepository
	WebhookRepository     WebhookRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DeliveryJobRepository: NewDeliveryJobRepository(db),
		DkimKeyRepository:     NewDkimKeyRepository(db),
		SuppressionRepository: NewSuppressionRepository(db),
		ReputationRepository:  NewReputationRepository(db),
		WebhookRepository:     NewWebhookRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DeliveryJob{},
		&models.DkimKey{},
		&models.SuppressionEntry{},
		&models.DomainReputation{},
		&models.MxServerReputation{},
		&models.Webhook{},
		&models.WebhookJob{},
		&models.WebhookLog{},
	)
}
