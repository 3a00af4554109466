package enum

// DeliveryStatus is the lifecycle state of a delivery job. Terminal states
// (delivered, failed, hard bounced) are never left once entered.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusBounced    DeliveryStatus = "bounced"
	DeliveryStatusDeferred   DeliveryStatus = "deferred"
)

func (t DeliveryStatus) String() string {
	return string(t)
}

// IsTerminal reports whether a job in this status accepts no further attempts.
func (t DeliveryStatus) IsTerminal() bool {
	switch t {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusBounced:
		return true
	case DeliveryStatusPending, DeliveryStatusProcessing, DeliveryStatusDeferred:
		return false
	}
	return false
}

func DecodeDeliveryStatus(s string) DeliveryStatus {
	switch s {
	case DeliveryStatusPending.String():
		return DeliveryStatusPending
	case DeliveryStatusProcessing.String():
		return DeliveryStatusProcessing
	case DeliveryStatusDelivered.String():
		return DeliveryStatusDelivered
	case DeliveryStatusFailed.String():
		return DeliveryStatusFailed
	case DeliveryStatusBounced.String():
		return DeliveryStatusBounced
	case DeliveryStatusDeferred.String():
		return DeliveryStatusDeferred
	default:
		return ""
	}
}

// FailureReason identifies why a job reached a failed state without a
// transport-level rejection.
type FailureReason string

const (
	FailureReasonSuppressed   FailureReason = "suppressed"
	FailureReasonNoSigningKey FailureReason = "no_signing_key"
	FailureReasonMaxAttempts  FailureReason = "max_attempts"
	FailureReasonBadDomain    FailureReason = "bad_domain"
	FailureReasonCancelled    FailureReason = "cancelled"
)

func (t FailureReason) String() string {
	return string(t)
}
