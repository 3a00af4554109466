package enum

// WebhookJobStatus mirrors the latest attempt outcome for an outbound
// notification. Attempt history lives in the append-only webhook logs.
type WebhookJobStatus string

const (
	WebhookJobStatusPending    WebhookJobStatus = "pending"
	WebhookJobStatusProcessing WebhookJobStatus = "processing"
	WebhookJobStatusDelivered  WebhookJobStatus = "delivered"
	WebhookJobStatusFailed     WebhookJobStatus = "failed"
)

func (t WebhookJobStatus) String() string {
	return string(t)
}

func DecodeWebhookJobStatus(s string) WebhookJobStatus {
	switch s {
	case WebhookJobStatusPending.String():
		return WebhookJobStatusPending
	case WebhookJobStatusProcessing.String():
		return WebhookJobStatusProcessing
	case WebhookJobStatusDelivered.String():
		return WebhookJobStatusDelivered
	case WebhookJobStatusFailed.String():
		return WebhookJobStatusFailed
	default:
		return ""
	}
}
