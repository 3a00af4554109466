package delivery

import (
	"context"
	"fmt"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type deliveryService struct {
	cfg     *config.DeliveryConfig
	log     logger.Logger
	jobs    repository.DeliveryJobRepository
	storage interfaces.StorageService
	pool    interfaces.DeliveryWorkerPool
}

func NewDeliveryService(
	cfg *config.DeliveryConfig,
	log logger.Logger,
	jobs repository.DeliveryJobRepository,
	storage interfaces.StorageService,
	pool interfaces.DeliveryWorkerPool,
) interfaces.DeliveryService {
	return &deliveryService{
		cfg:     cfg,
		log:     log,
		jobs:    jobs,
		storage: storage,
		pool:    pool,
	}
}

func (s *deliveryService) Enqueue(ctx context.Context, request *interfaces.EnqueueMessageRequest) (*models.DeliveryJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryService.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	tenant := utils.GetTenantFromContext(ctx)
	if tenant == "" {
		return nil, er.ErrTenantMissing
	}

	job, err := s.buildJob(ctx, tenant, request)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// Idempotent enqueue: a messageId already in the queue hands back the
	// existing job before anything is written, so a re-submission cannot
	// overwrite the stored body of an in-flight job.
	existing, err := s.jobs.GetByMessageID(ctx, job.MessageID)
	if err == nil {
		span.LogKV("result.duplicate", true)
		return existing, nil
	}
	if !errors.Is(err, er.ErrJobNotFound) {
		tracing.TraceErr(span, err)
		return nil, err
	}

	bodyRef := fmt.Sprintf("%s/%s", tenant, job.MessageID)
	err = s.storage.Upload(ctx, bodyRef, []byte(request.Body), "message/rfc822")
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "storing message body"))
		return nil, err
	}
	job.BodyRef = bodyRef

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		if errors.Is(err, er.ErrDuplicateMessageID) {
			// Lost a create race against a concurrent enqueue of the same
			// messageId.
			existing, getErr := s.jobs.GetByMessageID(ctx, job.MessageID)
			if getErr != nil {
				tracing.TraceErr(span, getErr)
				return nil, getErr
			}
			span.LogKV("result.duplicate", true)
			return existing, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("Enqueued delivery job %s for message %s", created.ID, created.MessageID)
	s.pool.Wake()
	return created, nil
}

func (s *deliveryService) GetJob(ctx context.Context, jobID string) (*models.DeliveryJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryService.GetJob")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if job.Tenant != utils.GetTenantFromContext(ctx) {
		return nil, er.ErrJobNotFound
	}
	return job, nil
}

func (s *deliveryService) GetJobByMessageID(ctx context.Context, messageID string) (*models.DeliveryJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryService.GetJobByMessageID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	job, err := s.jobs.GetByMessageID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if job.Tenant != utils.GetTenantFromContext(ctx) {
		return nil, er.ErrJobNotFound
	}
	return job, nil
}

func (s *deliveryService) Cancel(ctx context.Context, jobID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryService.Cancel")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, jobID)

	tenant := utils.GetTenantFromContext(ctx)
	if tenant == "" {
		return er.ErrTenantMissing
	}

	err := s.jobs.Cancel(ctx, tenant, jobID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("Cancelled delivery job %s", jobID)
	return nil
}

func (s *deliveryService) CountByStatus(ctx context.Context) (map[enum.DeliveryStatus]int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryService.CountByStatus")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	tenant := utils.GetTenantFromContext(ctx)
	if tenant == "" {
		return nil, er.ErrTenantMissing
	}

	counts, err := s.jobs.CountByStatus(ctx, tenant)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return counts, nil
}

func (s *deliveryService) buildJob(ctx context.Context, tenant string, request *interfaces.EnqueueMessageRequest) (*models.DeliveryJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryService.buildJob")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if request.FromAddress == "" {
		return nil, errors.New("from address is required")
	}
	if request.ToAddress == "" {
		return nil, errors.New("to address is required")
	}
	if request.Body == "" {
		return nil, errors.New("message body is required")
	}

	fromValidation := mailvalidate.ValidateEmailSyntax(request.FromAddress)
	if !fromValidation.IsValid {
		return nil, errors.New("from address is not valid")
	}
	toValidation := mailvalidate.ValidateEmailSyntax(request.ToAddress)
	if !toValidation.IsValid {
		return nil, errors.New("to address is not valid")
	}

	messageID := request.MessageID
	if messageID == "" {
		messageID = utils.GenerateMessageID(fromValidation.Domain, "")
	}

	job := &models.DeliveryJob{
		Tenant:        tenant,
		MessageID:     messageID,
		FromAddress:   utils.NormalizeEmail(request.FromAddress),
		FromDomain:    fromValidation.Domain,
		ToAddress:     utils.NormalizeEmail(request.ToAddress),
		Subject:       request.Subject,
		Headers:       request.Headers,
		Status:        enum.DeliveryStatusPending,
		Priority:      utils.GetOrDefault(request.Priority, 100),
		MaxAttempts:   s.cfg.MaxAttempts,
		NextAttemptAt: utils.NowPtr(),
		BounceType:    enum.BounceTypeNone,
	}
	return job, nil
}
