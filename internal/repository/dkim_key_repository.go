package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

type DkimKeyRepository interface {
	Create(ctx context.Context, key *models.DkimKey) (*models.DkimKey, error)
	GetActiveKey(ctx context.Context, domain, selector string) (*models.DkimKey, error)
	ListByDomain(ctx context.Context, domain string) ([]models.DkimKey, error)
	// Rotate deactivates the current active key of (domain, selector) and
	// creates the replacement in one transaction, so at most one active key
	// exists at any point.
	Rotate(ctx context.Context, newKey *models.DkimKey) (*models.DkimKey, error)
	Deactivate(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]models.DkimKey, error)
}

type dkimKeyRepository struct {
	db *gorm.DB
}

func NewDkimKeyRepository(db *gorm.DB) DkimKeyRepository {
	return &dkimKeyRepository{db: db}
}

func (r *dkimKeyRepository) Create(ctx context.Context, key *models.DkimKey) (*models.DkimKey, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, key.Tenant)

	err := r.db.WithContext(ctx).Create(key).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return key, nil
}

func (r *dkimKeyRepository) GetActiveKey(ctx context.Context, domain, selector string) (*models.DkimKey, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.GetActiveKey")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain, "selector", selector)

	var key models.DkimKey
	err := r.db.WithContext(ctx).
		Where("domain = ? AND selector = ? AND is_active = true", domain, selector).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, er.ErrNoActiveKey
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &key, nil
}

func (r *dkimKeyRepository) ListByDomain(ctx context.Context, domain string) ([]models.DkimKey, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.ListByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain)

	var keys []models.DkimKey
	err := r.db.WithContext(ctx).
		Where("domain = ?", domain).
		Order("created_at desc").
		Find(&keys).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return keys, nil
}

func (r *dkimKeyRepository) Rotate(ctx context.Context, newKey *models.DkimKey) (*models.DkimKey, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.Rotate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagTenant(span, newKey.Tenant)
	span.LogKV("domain", newKey.Domain, "selector", newKey.Selector)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// is_active is set to NULL rather than false so the old row leaves
		// the partial-unique slot free for the replacement.
		err := tx.Model(&models.DkimKey{}).
			Where("domain = ? AND selector = ? AND is_active = true", newKey.Domain, newKey.Selector).
			Updates(map[string]interface{}{"is_active": nil, "updated_at": utils.Now()}).Error
		if err != nil {
			return err
		}
		return tx.Create(newKey).Error
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return newKey, nil
}

func (r *dkimKeyRepository) Deactivate(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.Deactivate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).Model(&models.DkimKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": nil, "updated_at": utils.Now()}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *dkimKeyRepository) ListExpired(ctx context.Context, now time.Time) ([]models.DkimKey, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "DkimKeyRepository.ListExpired")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var keys []models.DkimKey
	err := r.db.WithContext(ctx).
		Where("is_active = true AND expires_at IS NOT NULL AND expires_at < ?", now).
		Find(&keys).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return keys, nil
}
