package interfaces

import (
	"context"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/models"
)

// EnqueueMessageRequest is the compose collaborator's input for a new
// delivery job. MessageID is the idempotency key and must be globally unique.
type EnqueueMessageRequest struct {
	MessageID   string
	FromAddress string
	ToAddress   string
	Subject     string
	Body        string
	Headers     []string
	Priority    *int
}

// DeliveryService is the engine's front door for the compose collaborator
// and the read-side API.
type DeliveryService interface {
	// Enqueue creates a pending job. Re-submitting an existing messageId is
	// a no-op returning the existing job.
	Enqueue(ctx context.Context, request *EnqueueMessageRequest) (*models.DeliveryJob, error)
	GetJob(ctx context.Context, jobID string) (*models.DeliveryJob, error)
	GetJobByMessageID(ctx context.Context, messageID string) (*models.DeliveryJob, error)
	// Cancel aborts a job that has not been leased yet.
	Cancel(ctx context.Context, jobID string) error
	// CountByStatus reports the tenant's job counts per delivery status.
	CountByStatus(ctx context.Context) (map[enum.DeliveryStatus]int64, error)
}

// DeliveryWorkerPool runs the delivery workers until the context is done.
type DeliveryWorkerPool interface {
	Start(ctx context.Context) error
	Stop()
	// Wake nudges an idle worker after an enqueue, avoiding a poll delay.
	Wake()
}

// SuppressionService answers the hot-path suppression check and manages
// entries.
type SuppressionService interface {
	IsSuppressed(ctx context.Context, tenant, email string) (bool, error)
	Add(ctx context.Context, entry *models.SuppressionEntry) error
	Remove(ctx context.Context, tenant, email string) error
	List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error)
}

// ReputationService records delivery outcomes and serves the backoff tier.
type ReputationService interface {
	RecordSuccess(ctx context.Context, domain, mxServer string) error
	RecordFailure(ctx context.Context, domain, mxServer string, hardBounce bool) error
	GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error)
	GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error)
}
