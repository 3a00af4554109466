package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrTenantMissing     = errors.New("tenant is missing")
	ErrConnectionTimeout = errors.New("connection timeout")

	// delivery queue errors
	ErrDuplicateMessageID = errors.New("message id already exists")
	ErrJobNotFound        = errors.New("delivery job not found")
	ErrJobNotCancellable  = errors.New("delivery job is no longer pending")

	// signing errors
	ErrNoActiveKey  = errors.New("no active dkim key for domain")
	ErrKeyNotFound  = errors.New("dkim key not found")
	ErrKeyMalformed = errors.New("dkim key material is malformed")

	// suppression errors
	ErrSuppressed = errors.New("recipient is suppressed")

	// webhook errors
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrWebhookDisabled  = errors.New("webhook is disabled")
	ErrWebhookJobExists = errors.New("webhook job already enqueued")
)
