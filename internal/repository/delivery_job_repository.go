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

type DeliveryJobRepository interface {
	Create(ctx context.Context, job *models.DeliveryJob) (*models.DeliveryJob, error)
	GetByID(ctx context.Context, id string) (*models.DeliveryJob, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.DeliveryJob, error)
	// LeaseNext atomically claims the most urgent due pending job for the
	// worker, marking it processing with a lease expiry. Returns nil when no
	// job is eligible.
	LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*models.DeliveryJob, error)
	Update(ctx context.Context, job *models.DeliveryJob) error
	Cancel(ctx context.Context, tenant, id string) error
	// ReclaimExpiredLeases resets processing jobs whose lease ran out back to
	// pending. This is the sole recovery path for crashed workers.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	// PromoteDeferred moves deferred jobs whose retry time arrived back to
	// pending so workers can lease them.
	PromoteDeferred(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, tenant string) (map[enum.DeliveryStatus]int64, error)
}

type deliveryJobRepository struct {
	db *gorm.DB
}

func NewDeliveryJobRepository(db *gorm.DB) DeliveryJobRepository {
	return &deliveryJobRepository{db: db}
}

func (r *deliveryJobRepository) Create(ctx context.Context, job *models.DeliveryJob) (*models.DeliveryJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, job.Tenant)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DeliveryJob
		err := tx.Where("message_id = ?", job.MessageID).First(&existing).Error
		if err == nil {
			return er.ErrDuplicateMessageID
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "db error")
		}
		return tx.Create(job).Error
	})
	if err != nil {
		if errors.Is(err, er.ErrDuplicateMessageID) {
			return nil, err
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}

	return job, nil
}

func (r *deliveryJobRepository) GetByID(ctx context.Context, id string) (*models.DeliveryJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var job models.DeliveryJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, er.ErrJobNotFound
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &job, nil
}

func (r *deliveryJobRepository) GetByMessageID(ctx context.Context, messageID string) (*models.DeliveryJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.GetByMessageID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var job models.DeliveryJob
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, er.ErrJobNotFound
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &job, nil
}

func (r *deliveryJobRepository) LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*models.DeliveryJob, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.LeaseNext")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagWorker(span, workerID)

	var job models.DeliveryJob
	now := utils.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", enum.DeliveryStatusPending, now).
			Order("priority asc, next_attempt_at asc").
			First(&job).Error
		if err != nil {
			return err
		}

		leaseExpiry := now.Add(leaseTTL)
		job.Status = enum.DeliveryStatusProcessing
		job.LeasedBy = &workerID
		job.LeaseExpiresAt = &leaseExpiry
		job.UpdatedAt = now
		return tx.Save(&job).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}

	tracing.TagEntity(span, job.ID)
	return &job, nil
}

func (r *deliveryJobRepository) Update(ctx context.Context, job *models.DeliveryJob) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.Update")
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

func (r *deliveryJobRepository) Cancel(ctx context.Context, tenant, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.Cancel")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)
	tracing.TagEntity(span, id)

	// Cancellation is only allowed before a worker leases the job.
	result := r.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("id = ? AND tenant = ? AND status = ?", id, tenant, enum.DeliveryStatusPending).
		Updates(map[string]interface{}{
			"status":          enum.DeliveryStatusFailed,
			"next_attempt_at": nil,
			"delivery_report": models.JSONMap{"outcome": "cancelled", "failureReason": enum.FailureReasonCancelled.String()},
			"updated_at":      utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return er.ErrJobNotCancellable
	}
	return nil
}

func (r *deliveryJobRepository) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.ReclaimExpiredLeases")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("status = ? AND lease_expires_at < ?", enum.DeliveryStatusProcessing, now).
		Updates(map[string]interface{}{
			"status":           enum.DeliveryStatusPending,
			"leased_by":        nil,
			"lease_expires_at": nil,
			"next_attempt_at":  now,
			"updated_at":       now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *deliveryJobRepository) PromoteDeferred(ctx context.Context, now time.Time) (int64, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.PromoteDeferred")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("status = ? AND next_attempt_at <= ?", enum.DeliveryStatusDeferred, now).
		Updates(map[string]interface{}{
			"status":     enum.DeliveryStatusPending,
			"updated_at": now,
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *deliveryJobRepository) CountByStatus(ctx context.Context, tenant string) (map[enum.DeliveryStatus]int64, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DeliveryJobRepository.CountByStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Select("status, count(*) as count").
		Where("tenant = ?", tenant).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}

	counts := make(map[enum.DeliveryStatus]int64, len(rows))
	for _, r := range rows {
		counts[enum.DecodeDeliveryStatus(r.Status)] = r.Count
	}
	return counts, nil
}
