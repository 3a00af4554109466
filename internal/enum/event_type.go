package enum

// LifecycleEventType is emitted by the worker pool on every job completion
// and consumed by the webhook dispatcher.
type LifecycleEventType string

const (
	LifecycleEventSent      LifecycleEventType = "sent"
	LifecycleEventDelivered LifecycleEventType = "delivered"
	LifecycleEventBounced   LifecycleEventType = "bounced"
	LifecycleEventDeferred  LifecycleEventType = "deferred"
	LifecycleEventFailed    LifecycleEventType = "failed"
)

func (t LifecycleEventType) String() string {
	return string(t)
}

func DecodeLifecycleEventType(s string) LifecycleEventType {
	switch s {
	case LifecycleEventSent.String():
		return LifecycleEventSent
	case LifecycleEventDelivered.String():
		return LifecycleEventDelivered
	case LifecycleEventBounced.String():
		return LifecycleEventBounced
	case LifecycleEventDeferred.String():
		return LifecycleEventDeferred
	case LifecycleEventFailed.String():
		return LifecycleEventFailed
	default:
		return ""
	}
}

// EntityType tags events on the bus with the entity they concern.
type EntityType string

const (
	DELIVERY_JOB EntityType = "DELIVERY_JOB"
	WEBHOOK      EntityType = "WEBHOOK"
	DKIM_KEY     EntityType = "DKIM_KEY"
)

func (t EntityType) String() string {
	return string(t)
}
