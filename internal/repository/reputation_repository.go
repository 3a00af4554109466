package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/tracing"
)

type ReputationRepository interface {
	GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error)
	GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error)
	// UpdateDomainReputation loads (or creates) the row for domain under a
	// row lock and applies fn inside the transaction. Concurrent workers
	// recording outcomes for the same domain serialize here.
	UpdateDomainReputation(ctx context.Context, domain string, fn func(rep *models.DomainReputation)) (*models.DomainReputation, error)
	UpdateMxReputation(ctx context.Context, mxServer, domain string, fn func(rep *models.MxServerReputation)) (*models.MxServerReputation, error)
}

type reputationRepository struct {
	db *gorm.DB
}

func NewReputationRepository(db *gorm.DB) ReputationRepository {
	return &reputationRepository{db: db}
}

func (r *reputationRepository) GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ReputationRepository.GetDomainReputation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("domain", domain)

	var rep models.DomainReputation
	err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&rep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &rep, nil
}

func (r *reputationRepository) GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ReputationRepository.GetMxReputation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("mxServer", mxServer)
	span.SetTag("domain", domain)

	var rep models.MxServerReputation
	err := r.db.WithContext(ctx).Where("mx_server = ? AND domain = ?", mxServer, domain).First(&rep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &rep, nil
}

func (r *reputationRepository) UpdateDomainReputation(ctx context.Context, domain string, fn func(rep *models.DomainReputation)) (*models.DomainReputation, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ReputationRepository.UpdateDomainReputation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("domain", domain)

	var rep models.DomainReputation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("domain = ?", domain).
			First(&rep).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			rep = models.DomainReputation{Domain: domain, Score: 100, Status: enum.ReputationStatusGood}
			if err := tx.Create(&rep).Error; err != nil {
				return err
			}
		}
		fn(&rep)
		return tx.Save(&rep).Error
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &rep, nil
}

func (r *reputationRepository) UpdateMxReputation(ctx context.Context, mxServer, domain string, fn func(rep *models.MxServerReputation)) (*models.MxServerReputation, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ReputationRepository.UpdateMxReputation")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("mxServer", mxServer)
	span.SetTag("domain", domain)

	var rep models.MxServerReputation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("mx_server = ? AND domain = ?", mxServer, domain).
			First(&rep).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			rep = models.MxServerReputation{MxServer: mxServer, Domain: domain, Score: 100, Status: enum.ReputationStatusGood}
			if err := tx.Create(&rep).Error; err != nil {
				return err
			}
		}
		fn(&rep)
		return tx.Save(&rep).Error
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &rep, nil
}
