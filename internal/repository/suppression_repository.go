package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type SuppressionRepository interface {
	// IsSuppressed matches either a global entry or a tenant-scoped entry,
	// case-insensitively. Hot path of every delivery attempt.
	IsSuppressed(ctx context.Context, tenant, email string) (bool, error)
	// Upsert is idempotent on (tenant, email); the latest reason wins.
	Upsert(ctx context.Context, entry *models.SuppressionEntry) error
	Delete(ctx context.Context, tenant, email string) error
	List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error)
}

type suppressionRepository struct {
	db *gorm.DB
}

func NewSuppressionRepository(db *gorm.DB) SuppressionRepository {
	return &suppressionRepository{db: db}
}

func (r *suppressionRepository) IsSuppressed(ctx context.Context, tenant, email string) (bool, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SuppressionRepository.IsSuppressed")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	var count int64
	err := r.db.WithContext(ctx).Model(&models.SuppressionEntry{}).
		Where("email = ? AND (tenant = '' OR tenant = ?)", utils.NormalizeEmail(email), tenant).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return false, err
	}
	return count > 0, nil
}

func (r *suppressionRepository) Upsert(ctx context.Context, entry *models.SuppressionEntry) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SuppressionRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, entry.Tenant)

	entry.Email = utils.NormalizeEmail(entry.Email)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}, {Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "bounce_type", "details", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *suppressionRepository) Delete(ctx context.Context, tenant, email string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "SuppressionRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	err := r.db.WithContext(ctx).
		Where("tenant = ? AND email = ?", tenant, utils.NormalizeEmail(email)).
		Delete(&models.SuppressionEntry{}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *suppressionRepository) List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "SuppressionRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, tenant)

	var entries []models.SuppressionEntry
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return entries, nil
}
