package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/dto"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// lifecyclePublisher is the slice of the events publisher the pool needs.
type lifecyclePublisher interface {
	PublishDeliveryLifecycleEvent(ctx context.Context, message dto.DeliveryLifecycle) error
}

// WorkerPool leases pending jobs and runs the delivery pipeline: suppression
// check, DKIM signing, MX resolution, SMTP transport and outcome recording.
type WorkerPool struct {
	cfg         *config.DeliveryConfig
	log         logger.Logger
	jobs        repository.DeliveryJobRepository
	suppression interfaces.SuppressionService
	reputation  interfaces.ReputationService
	dkim        interfaces.DkimService
	storage     interfaces.StorageService
	transport   interfaces.Transport
	resolver    interfaces.MXResolver
	publisher   lifecyclePublisher

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(
	cfg *config.DeliveryConfig,
	log logger.Logger,
	jobs repository.DeliveryJobRepository,
	suppression interfaces.SuppressionService,
	reputation interfaces.ReputationService,
	dkim interfaces.DkimService,
	storage interfaces.StorageService,
	transport interfaces.Transport,
	resolver interfaces.MXResolver,
	publisher lifecyclePublisher,
) *WorkerPool {
	return &WorkerPool{
		cfg:         cfg,
		log:         log,
		jobs:        jobs,
		suppression: suppression,
		reputation:  reputation,
		dkim:        dkim,
		storage:     storage,
		transport:   transport,
		resolver:    resolver,
		publisher:   publisher,
		wake:        make(chan struct{}, 1),
	}
}

func (p *WorkerPool) Start(ctx context.Context) error {
	if p.cfg.DisableDelivery {
		p.log.Warn("Delivery workers are disabled by configuration")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
	p.log.Infof("Started %d delivery workers", p.cfg.WorkerCount)
	return nil
}

func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Wake nudges one idle worker; a full signal channel means a worker is
// already about to poll.
func (p *WorkerPool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *WorkerPool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	defer tracing.RecoverAndLogToJaeger(p.log)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.jobs.LeaseNext(ctx, workerID, p.cfg.LeaseDuration)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Errorf("Worker %s failed to lease job: %v", workerID, err)
			}
		} else if job != nil {
			p.processJob(ctx, workerID, job)
			// Drain the queue before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *WorkerPool) processJob(ctx context.Context, workerID string, job *models.DeliveryJob) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerPool.processJob")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	tracing.TagWorker(span, workerID)
	tracing.TagTenant(span, job.Tenant)
	tracing.TagEntity(span, job.ID)

	ctx = utils.SetTenantInContext(ctx, job.Tenant)
	start := utils.Now()

	suppressed, err := p.suppression.IsSuppressed(ctx, job.Tenant, job.ToAddress)
	if err != nil {
		tracing.TraceErr(span, err)
		p.releaseForRetryOnInternalError(ctx, job, err)
		return
	}
	if suppressed {
		p.finalizeFailed(ctx, job, workerID, start, enum.FailureReasonSuppressed, "recipient is suppressed")
		return
	}

	raw, err := p.buildWireMessage(ctx, job)
	if err != nil {
		tracing.TraceErr(span, err)
		p.releaseForRetryOnInternalError(ctx, job, err)
		return
	}

	dkimHeader, err := p.dkim.Sign(ctx, job.FromDomain, "", raw)
	if err != nil {
		tracing.TraceErr(span, err)
		if errors.Is(err, er.ErrNoActiveKey) {
			p.finalizeFailed(ctx, job, workerID, start, enum.FailureReasonNoSigningKey, "no active signing key for domain")
			return
		}
		p.releaseForRetryOnInternalError(ctx, job, err)
		return
	}
	signed := append([]byte(dkimHeader), raw...)

	recipientDomain := utils.ExtractDomainFromEmail(job.ToAddress)
	if recipientDomain == "" {
		p.finalizeFailed(ctx, job, workerID, start, enum.FailureReasonBadDomain, "recipient address has no domain")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	mxRecords, err := p.resolver.ResolveMx(sendCtx, recipientDomain)
	if err != nil {
		tracing.TraceErr(span, err)
		outcome := interfaces.TransportOutcome{
			Result:       interfaces.TransportConnectionError,
			SMTPResponse: err.Error(),
			Err:          err,
		}
		p.recordOutcome(ctx, job, workerID, start, outcome, "")
		return
	}

	msg := interfaces.SignedMessage{
		From: job.FromAddress,
		To:   job.ToAddress,
		Raw:  signed,
	}

	// The signed message leaves for the recipient's servers for the first
	// time; retries of the same job do not announce this again.
	if job.Attempts == 0 {
		p.publishLifecycle(ctx, job, enum.LifecycleEventSent, "message handed to transport")
	}

	// Try MX hosts in preference order; only connection problems justify
	// moving on to the next host.
	var outcome interfaces.TransportOutcome
	var mxHost string
	for _, mx := range mxRecords {
		mxHost = mx.Host
		outcome = p.transport.Send(sendCtx, msg, mx.Host)
		if outcome.Result != interfaces.TransportConnectionError {
			break
		}
		if sendCtx.Err() != nil {
			break
		}
	}

	p.recordOutcome(ctx, job, workerID, start, outcome, mxHost)
}

// buildWireMessage assembles the RFC 5322 message: the job's envelope
// headers, any stored custom headers, then the body from object storage.
func (p *WorkerPool) buildWireMessage(ctx context.Context, job *models.DeliveryJob) ([]byte, error) {
	body, err := p.storage.Download(ctx, job.BodyRef)
	if err != nil {
		return nil, errors.Wrap(err, "downloading message body")
	}

	var b strings.Builder
	writeHeader := func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("From", job.FromAddress)
	writeHeader("To", job.ToAddress)
	if job.Subject != "" {
		writeHeader("Subject", job.Subject)
	}
	// Caller-supplied message ids may already carry the angle brackets.
	writeHeader("Message-ID", "<"+strings.Trim(job.MessageID, "<>")+">")
	writeHeader("Date", utils.Now().Format(time.RFC1123Z))
	for _, h := range job.Headers {
		if name, value, ok := strings.Cut(h, ":"); ok {
			writeHeader(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	b.WriteString("\r\n")
	b.Write(normalizeCRLF(body))

	return []byte(b.String()), nil
}

func (p *WorkerPool) recordOutcome(ctx context.Context, job *models.DeliveryJob, workerID string, start time.Time, outcome interfaces.TransportOutcome, mxHost string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerPool.recordOutcome")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	tracing.TagEntity(span, job.ID)
	span.LogKV("result", outcome.Result.String())

	now := utils.Now()
	job.Attempts++
	job.LastAttemptAt = &now
	job.LeasedBy = nil
	job.LeaseExpiresAt = nil
	job.NextAttemptAt = nil

	report := models.DeliveryReport{
		Outcome:      outcome.Result.String(),
		SMTPCode:     outcome.SMTPCode,
		SMTPResponse: outcome.SMTPResponse,
		MXHost:       mxHost,
		AttemptedAt:  now.Format(time.RFC3339),
		DurationMs:   now.Sub(start).Milliseconds(),
		WorkerID:     workerID,
	}

	var eventType enum.LifecycleEventType
	switch outcome.Result {
	case interfaces.TransportDelivered:
		job.Status = enum.DeliveryStatusDelivered
		eventType = enum.LifecycleEventDelivered
		if err := p.reputation.RecordSuccess(ctx, job.FromDomain, mxHost); err != nil {
			tracing.TraceErr(span, err)
		}

	case interfaces.TransportPermanentReject:
		job.Status = enum.DeliveryStatusBounced
		job.BounceType = enum.BounceTypeHard
		eventType = enum.LifecycleEventBounced
		report.Reason = "hard bounce"
		p.suppressRecipient(ctx, job, outcome)
		if err := p.reputation.RecordFailure(ctx, job.FromDomain, mxHost, true); err != nil {
			tracing.TraceErr(span, err)
		}

	default: // transient reject or connection error
		job.BounceType = enum.BounceTypeSoft
		if err := p.reputation.RecordFailure(ctx, job.FromDomain, mxHost, false); err != nil {
			tracing.TraceErr(span, err)
		}
		if job.Attempts >= job.MaxAttempts {
			job.Status = enum.DeliveryStatusFailed
			eventType = enum.LifecycleEventFailed
			report.FailureReason = enum.FailureReasonMaxAttempts.String()
			report.Reason = "retries exhausted"
		} else {
			job.Status = enum.DeliveryStatusDeferred
			eventType = enum.LifecycleEventDeferred
			next := now.Add(p.nextBackoff(ctx, job, mxHost))
			job.NextAttemptAt = &next
			report.Reason = "deferred for retry"
			span.LogKV("next_attempt_at", next.Format(time.RFC3339))
		}
	}

	job.DeliveryReport = report.AsJSONMap()
	if err := p.jobs.Update(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		p.log.Errorf("Failed to persist outcome for job %s: %v", job.ID, err)
		return
	}

	p.publishLifecycle(ctx, job, eventType, report.Reason)
}

// nextBackoff doubles per attempt and stretches further when the target MX
// host has a degraded reputation tier.
func (p *WorkerPool) nextBackoff(ctx context.Context, job *models.DeliveryJob, mxHost string) time.Duration {
	backoff := p.cfg.BackoffBase
	for i := 1; i < job.Attempts; i++ {
		backoff *= 2
		if backoff >= p.cfg.BackoffCap {
			backoff = p.cfg.BackoffCap
			break
		}
	}

	if mxHost != "" {
		rep, err := p.reputation.GetMxReputation(ctx, mxHost, job.FromDomain)
		if err == nil && rep != nil {
			backoff *= time.Duration(rep.Status.BackoffMultiplier())
		}
	}

	if backoff > p.cfg.BackoffCap {
		backoff = p.cfg.BackoffCap
	}
	return backoff
}

func (p *WorkerPool) suppressRecipient(ctx context.Context, job *models.DeliveryJob, outcome interfaces.TransportOutcome) {
	entry := &models.SuppressionEntry{
		Tenant:     job.Tenant,
		Email:      job.ToAddress,
		Reason:     enum.SuppressionReasonBounce,
		BounceType: enum.BounceTypeHard,
		Details:    fmt.Sprintf("smtp %d: %s", outcome.SMTPCode, outcome.SMTPResponse),
	}
	if err := p.suppression.Add(ctx, entry); err != nil {
		p.log.Errorf("Failed to suppress %s after hard bounce: %v", job.ToAddress, err)
	}
}

// finalizeFailed ends the job without a transport attempt. The attempt
// counter still advances so the report reflects the work done.
func (p *WorkerPool) finalizeFailed(ctx context.Context, job *models.DeliveryJob, workerID string, start time.Time, reason enum.FailureReason, detail string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerPool.finalizeFailed")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	tracing.TagEntity(span, job.ID)
	span.LogKV("failure_reason", reason.String())

	now := utils.Now()
	job.Attempts++
	job.LastAttemptAt = &now
	job.LeasedBy = nil
	job.LeaseExpiresAt = nil
	job.NextAttemptAt = nil
	job.Status = enum.DeliveryStatusFailed

	report := models.DeliveryReport{
		Outcome:       "failed",
		Reason:        detail,
		AttemptedAt:   now.Format(time.RFC3339),
		DurationMs:    now.Sub(start).Milliseconds(),
		WorkerID:      workerID,
		FailureReason: reason.String(),
	}
	job.DeliveryReport = report.AsJSONMap()

	if err := p.jobs.Update(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		p.log.Errorf("Failed to persist failure for job %s: %v", job.ID, err)
		return
	}

	p.publishLifecycle(ctx, job, enum.LifecycleEventFailed, detail)
}

// releaseForRetryOnInternalError puts the job back on the queue untouched
// when infrastructure (storage, database) failed before any transport
// attempt. The attempt counter does not advance.
func (p *WorkerPool) releaseForRetryOnInternalError(ctx context.Context, job *models.DeliveryJob, cause error) {
	job.Status = enum.DeliveryStatusPending
	job.LeasedBy = nil
	job.LeaseExpiresAt = nil
	next := utils.Now().Add(p.cfg.PollInterval)
	job.NextAttemptAt = &next

	if err := p.jobs.Update(ctx, job); err != nil {
		p.log.Errorf("Failed to release job %s after internal error (%v): %v", job.ID, cause, err)
	}
}

func (p *WorkerPool) publishLifecycle(ctx context.Context, job *models.DeliveryJob, eventType enum.LifecycleEventType, reason string) {
	if p.publisher == nil {
		return
	}
	event := dto.DeliveryLifecycle{
		JobID:      job.ID,
		MessageID:  job.MessageID,
		Tenant:     job.Tenant,
		EventType:  eventType,
		ToAddress:  job.ToAddress,
		FromDomain: job.FromDomain,
		Attempts:   job.Attempts,
		BounceType: job.BounceType,
		Reason:     reason,
		OccurredAt: utils.Now().Format(time.RFC3339),
	}
	if err := p.publisher.PublishDeliveryLifecycleEvent(ctx, event); err != nil {
		p.log.Errorf("Failed to publish lifecycle event for job %s: %v", job.ID, err)
	}
}

// normalizeCRLF rewrites bare LF line endings so the wire message and the
// DKIM body hash agree on CRLF.
func normalizeCRLF(body []byte) []byte {
	if !strings.Contains(string(body), "\n") {
		return body
	}
	s := strings.ReplaceAll(string(body), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return []byte(s)
}
