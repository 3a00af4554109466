package services

import (
	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/services/delivery"
	"github.com/customeros/sendstack/services/dkim"
	"github.com/customeros/sendstack/services/events"
	"github.com/customeros/sendstack/services/reputation"
	"github.com/customeros/sendstack/services/storage"
	"github.com/customeros/sendstack/services/suppression"
	"github.com/customeros/sendstack/services/transport"
	"github.com/customeros/sendstack/services/webhooks"
)

type Services struct {
	EventsService      *events.EventsService
	StorageService     interfaces.StorageService
	DkimService        interfaces.DkimService
	SuppressionService interfaces.SuppressionService
	ReputationService  interfaces.ReputationService
	DeliveryService    interfaces.DeliveryService
	WorkerPool         *delivery.WorkerPool
	WebhookService     interfaces.WebhookService
	DispatcherPool     interfaces.WebhookDispatcherPool
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	// events
	publisherConfig := &events.PublisherConfig{
		MessageTTL:          events.DefaultMessageTTL,
		MaxRetries:          events.DefaultMaxRetries,
		PublishTimeout:      events.DefaultPublishTimeout,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	storageService := storage.NewR2StorageService(
		cfg.R2StorageConfig.AccountID,
		cfg.R2StorageConfig.AccessKeyID,
		cfg.R2StorageConfig.AccessKeySecret,
		cfg.R2StorageConfig.MessageBucket,
	)

	dkimService := dkim.NewDkimService(cfg.DkimConfig, log, repos.DkimKeyRepository)
	suppressionService := suppression.NewSuppressionService(log, repos.SuppressionRepository)
	reputationService := reputation.NewReputationService(cfg.ReputationConfig, log, repos.ReputationRepository)

	smtpTransport := transport.NewSMTPTransport(cfg.DeliveryConfig.SMTPHeloDomain, cfg.DeliveryConfig.SMTPPort)
	mxResolver := transport.NewMXResolver()

	workerPool := delivery.NewWorkerPool(
		cfg.DeliveryConfig,
		log,
		repos.DeliveryJobRepository,
		suppressionService,
		reputationService,
		dkimService,
		storageService,
		smtpTransport,
		mxResolver,
		eventsService.Publisher,
	)

	deliveryService := delivery.NewDeliveryService(
		cfg.DeliveryConfig,
		log,
		repos.DeliveryJobRepository,
		storageService,
		workerPool,
	)

	webhookService := webhooks.NewWebhookService(log, repos.WebhookRepository)
	dispatcherPool := webhooks.NewDispatcherPool(cfg.WebhookConfig, log, repos.WebhookRepository)

	services := Services{
		EventsService:      eventsService,
		StorageService:     storageService,
		DkimService:        dkimService,
		SuppressionService: suppressionService,
		ReputationService:  reputationService,
		DeliveryService:    deliveryService,
		WorkerPool:         workerPool,
		WebhookService:     webhookService,
		DispatcherPool:     dispatcherPool,
	}

	return &services, nil
}
