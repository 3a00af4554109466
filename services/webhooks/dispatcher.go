package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

const (
	signatureHeader = "X-Sendstack-Signature"
	eventHeader     = "X-Sendstack-Event"
	maxResponseBody = 4 * 1024
	leaseBatchSize  = 20
)

// notificationBody is the JSON document POSTed to the endpoint.
type notificationBody struct {
	EventType string         `json:"eventType"`
	MessageID string         `json:"messageId"`
	Timestamp string         `json:"timestamp"`
	Data      models.JSONMap `json:"data"`
}

// DispatcherPool polls due webhook jobs and delivers them over HTTP. Every
// attempt is recorded in the append-only webhook logs regardless of outcome.
type DispatcherPool struct {
	cfg    *config.WebhookConfig
	log    logger.Logger
	repo   webhookJobStore
	client *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// webhookJobStore is the slice of the webhook repository the dispatcher needs.
type webhookJobStore interface {
	GetByID(ctx context.Context, tenant, id string) (*models.Webhook, error)
	LeaseDueJobs(ctx context.Context, limit int) ([]models.WebhookJob, error)
	UpdateJob(ctx context.Context, job *models.WebhookJob) error
	AppendLog(ctx context.Context, log *models.WebhookLog) error
}

func NewDispatcherPool(cfg *config.WebhookConfig, log logger.Logger, repo webhookJobStore) interfaces.WebhookDispatcherPool {
	return &DispatcherPool{
		cfg:    cfg,
		log:    log,
		repo:   repo,
		client: &http.Client{},
	}
}

func (p *DispatcherPool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.DispatcherCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Infof("Started %d webhook dispatchers", p.cfg.DispatcherCount)
	return nil
}

func (p *DispatcherPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *DispatcherPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	defer tracing.RecoverAndLogToJaeger(p.log)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := p.repo.LeaseDueJobs(ctx, leaseBatchSize)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Errorf("Dispatcher %d failed to lease jobs: %v", id, err)
			}
			continue
		}
		for i := range jobs {
			p.dispatch(ctx, &jobs[i])
		}
	}
}

func (p *DispatcherPool) dispatch(ctx context.Context, job *models.WebhookJob) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DispatcherPool.dispatch")
	defer span.Finish()
	tracing.SetDefaultWorkerSpanTags(ctx, span)
	tracing.TagWorker(span, "webhook-dispatcher")
	tracing.TagTenant(span, job.Tenant)
	tracing.TagEntity(span, job.ID)

	webhook, err := p.repo.GetByID(ctx, job.Tenant, job.WebhookID)
	if err != nil {
		tracing.TraceErr(span, err)
		if errors.Is(err, er.ErrWebhookNotFound) {
			// Endpoint removed while jobs were in flight; terminal.
			job.Status = enum.WebhookJobStatusFailed
			job.ProcessedAt = utils.NowPtr()
			if uerr := p.repo.UpdateJob(ctx, job); uerr != nil {
				p.log.Errorf("Failed to finalize orphaned webhook job %s: %v", job.ID, uerr)
			}
			return
		}
		// Transient lookup failure: the job stays processing and the
		// stuck-job sweeper returns it to the queue.
		p.log.Errorf("Failed to load webhook %s for job %s: %v", job.WebhookID, job.ID, err)
		return
	}

	attempt := job.Attempt + 1
	entry := p.attemptDelivery(ctx, webhook, job, attempt)
	if err := p.repo.AppendLog(ctx, entry); err != nil {
		p.log.Errorf("Failed to append webhook log for job %s: %v", job.ID, err)
	}

	job.Attempt = attempt
	if entry.Success {
		job.Status = enum.WebhookJobStatusDelivered
		job.ProcessedAt = utils.NowPtr()
	} else if attempt >= job.MaxRetries {
		job.Status = enum.WebhookJobStatusFailed
		job.ProcessedAt = utils.NowPtr()
		p.log.Warnf("Webhook job %s exhausted %d attempts", job.ID, attempt)
	} else {
		job.Status = enum.WebhookJobStatusPending
		job.ScheduledAt = utils.Now().Add(p.retryBackoff(attempt))
	}

	if err := p.repo.UpdateJob(ctx, job); err != nil {
		tracing.TraceErr(span, err)
		p.log.Errorf("Failed to update webhook job %s: %v", job.ID, err)
	}
}

// retryBackoff doubles per failed attempt, capped so a flapping endpoint is
// not postponed indefinitely.
func (p *DispatcherPool) retryBackoff(attempt int) time.Duration {
	backoff := p.cfg.RetryInterval
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= p.cfg.RetryBackoffCap {
			return p.cfg.RetryBackoffCap
		}
	}
	return backoff
}

func (p *DispatcherPool) attemptDelivery(ctx context.Context, webhook *models.Webhook, job *models.WebhookJob, attempt int) *models.WebhookLog {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DispatcherPool.attemptDelivery")
	defer span.Finish()
	span.LogKV("webhook_id", webhook.ID)
	span.LogKV("attempt", attempt)

	entry := &models.WebhookLog{
		WebhookJobID: job.ID,
		Attempt:      attempt,
	}

	body, err := json.Marshal(notificationBody{
		EventType: job.EventType.String(),
		MessageID: job.MessageID,
		Timestamp: utils.Now().Format(time.RFC3339),
		Data:      job.Payload,
	})
	if err != nil {
		entry.ErrorMessage = err.Error()
		return entry
	}

	timeout := time.Duration(webhook.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		entry.ErrorMessage = err.Error()
		return entry
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, job.EventType.String())
	req.Header.Set(signatureHeader, signPayload(webhook.Secret, body))
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	start := time.Now()
	resp, err := p.client.Do(req)
	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		tracing.TraceErr(span, err)
		entry.ErrorMessage = err.Error()
		return entry
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	entry.StatusCode = resp.StatusCode
	entry.ResponseBody = string(respBody)
	entry.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !entry.Success {
		err := errors.Errorf("endpoint returned status %d", resp.StatusCode)
		tracing.TraceErr(span, err)
		entry.ErrorMessage = err.Error()
	}
	return entry
}

// signPayload computes the signature the receiver can verify with the shared
// secret: HMAC-SHA256 over the exact request body.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
