package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	er "github.com/customeros/sendstack/internal/errors"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, tenant, id string) (*models.Webhook, error)
	List(ctx context.Context, tenant string) ([]models.Webhook, error)
	ListEnabledByTenant(ctx context.Context, tenant string) ([]models.Webhook, error)
	Update(ctx context.Context, webhook *models.Webhook) error
	Delete(ctx context.Context, tenant, id string) error

	CreateJob(ctx context.Context, job *models.WebhookJob) error
	// LeaseDueJobs claims up to limit pending jobs whose scheduled_at has
	// passed, marking them processing so concurrent dispatchers skip them.
	LeaseDueJobs(ctx context.Context, limit int) ([]models.WebhookJob, error)
	UpdateJob(ctx context.Context, job *models.WebhookJob) error
	// RequeueStuckJobs returns processing jobs abandoned longer than
	// staleAfter to pending so the dispatcher picks them up again.
	RequeueStuckJobs(ctx context.Context, staleAfter time.Duration) (int64, error)

	AppendLog(ctx context.Context, log *models.WebhookLog) error
	ListLogsByWebhook(ctx context.Context, tenant, webhookID string, limit, offset int) ([]models.WebhookLog, error)
}

type webhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, webhook.Tenant)

	err := r.db.WithContext(ctx).Create(webhook).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *webhookRepository) GetByID(ctx context.Context, tenant, id string) (*models.Webhook, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)
	tracing.TagEntity(span, id)

	var webhook models.Webhook
	err := r.db.WithContext(ctx).Where("tenant = ? AND id = ?", tenant, id).First(&webhook).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, er.ErrWebhookNotFound
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &webhook, nil
}

func (r *webhookRepository) List(ctx context.Context, tenant string) ([]models.Webhook, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	var webhooks []models.Webhook
	err := r.db.WithContext(ctx).Where("tenant = ?", tenant).Order("created_at asc").Find(&webhooks).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return webhooks, nil
}

func (r *webhookRepository) ListEnabledByTenant(ctx context.Context, tenant string) ([]models.Webhook, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.ListEnabledByTenant")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	var webhooks []models.Webhook
	err := r.db.WithContext(ctx).Where("tenant = ? AND enabled = ?", tenant, true).Find(&webhooks).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return webhooks, nil
}

func (r *webhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, webhook.Tenant)
	tracing.TagEntity(span, webhook.ID)

	webhook.UpdatedAt = utils.Now()
	err := r.db.WithContext(ctx).Save(webhook).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *webhookRepository) Delete(ctx context.Context, tenant, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).Where("tenant = ? AND id = ?", tenant, id).Delete(&models.Webhook{})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return er.ErrWebhookNotFound
	}
	return nil
}

func (r *webhookRepository) CreateJob(ctx context.Context, job *models.WebhookJob) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.CreateJob")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, job.Tenant)

	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *webhookRepository) LeaseDueJobs(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.LeaseDueJobs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var jobs []models.WebhookJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_at <= ?", enum.WebhookJobStatusPending, utils.Now()).
			Order("scheduled_at asc").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]string, 0, len(jobs))
		for i := range jobs {
			jobs[i].Status = enum.WebhookJobStatusProcessing
			ids = append(ids, jobs[i].ID)
		}
		return tx.Model(&models.WebhookJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     enum.WebhookJobStatusProcessing,
				"updated_at": utils.Now(),
			}).Error
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return jobs, nil
}

func (r *webhookRepository) UpdateJob(ctx context.Context, job *models.WebhookJob) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.UpdateJob")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, job.ID)

	job.UpdatedAt = utils.Now()
	err := r.db.WithContext(ctx).Save(job).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *webhookRepository) RequeueStuckJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.RequeueStuckJobs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	cutoff := utils.Now().Add(-staleAfter)
	result := r.db.WithContext(ctx).Model(&models.WebhookJob{}).
		Where("status = ? AND updated_at < ?", enum.WebhookJobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     enum.WebhookJobStatusPending,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *webhookRepository) AppendLog(ctx context.Context, log *models.WebhookLog) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.AppendLog")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).Create(log).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *webhookRepository) ListLogsByWebhook(ctx context.Context, tenant, webhookID string, limit, offset int) ([]models.WebhookLog, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "WebhookRepository.ListLogsByWebhook")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	var logs []models.WebhookLog
	err := r.db.WithContext(ctx).
		Joins("JOIN webhook_jobs ON webhook_jobs.id = webhook_logs.webhook_job_id").
		Where("webhook_jobs.tenant = ? AND webhook_jobs.webhook_id = ?", tenant, webhookID).
		Order("webhook_logs.created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return logs, nil
}
