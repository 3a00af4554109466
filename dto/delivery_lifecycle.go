package dto

import "github.com/customeros/sendstack/internal/enum"

// DeliveryLifecycle is published on every delivery job completion and
// consumed by the webhook fanout listener.
type DeliveryLifecycle struct {
	JobID      string                  `json:"jobId"`
	MessageID  string                  `json:"messageId"`
	Tenant     string                  `json:"tenant"`
	EventType  enum.LifecycleEventType `json:"eventType"`
	ToAddress  string                  `json:"toAddress"`
	FromDomain string                  `json:"fromDomain"`
	Attempts   int                     `json:"attempts"`
	BounceType enum.BounceType         `json:"bounceType,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	OccurredAt string                  `json:"occurredAt"`
}
