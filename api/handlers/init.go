package handlers

import (
	"github.com/customeros/sendstack/interfaces"
)

type APIHandlers struct {
	Messages     *MessagesHandler
	Suppressions *SuppressionsHandler
	Webhooks     *WebhooksHandler
	Dkim         *DkimHandler
	Reputation   *ReputationHandler
}

func InitHandlers(
	deliveryService interfaces.DeliveryService,
	suppressionService interfaces.SuppressionService,
	webhookService interfaces.WebhookService,
	dkimService interfaces.DkimService,
	reputationService interfaces.ReputationService,
) *APIHandlers {
	return &APIHandlers{
		Messages:     NewMessagesHandler(deliveryService),
		Suppressions: NewSuppressionsHandler(suppressionService),
		Webhooks:     NewWebhooksHandler(webhookService),
		Dkim:         NewDkimHandler(dkimService),
		Reputation:   NewReputationHandler(reputationService),
	}
}
