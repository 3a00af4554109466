package reputation

import (
	"context"
	"math"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// Score thresholds for the reputation tiers.
const (
	thresholdBad     = 40.0
	thresholdWarning = 75.0
)

// reputationService keeps a decaying 0-100 quality score per sending domain
// and per (MX host, domain) pair. The deficit below 100 halves every
// DecayHalfLife, so old failures age out on their own.
type reputationService struct {
	cfg  *config.ReputationConfig
	log  logger.Logger
	repo repository.ReputationRepository
}

func NewReputationService(cfg *config.ReputationConfig, log logger.Logger, repo repository.ReputationRepository) interfaces.ReputationService {
	return &reputationService{
		cfg:  cfg,
		log:  log,
		repo: repo,
	}
}

func (s *reputationService) RecordSuccess(ctx context.Context, domain, mxServer string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReputationService.RecordSuccess")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain", domain)

	now := utils.Now()
	apply := func(score *float64, success, failed *int64, status *enum.ReputationStatus, lastAt *time.Time, lastSuccess **time.Time, bounceRate *float64) {
		*score = s.decayed(*score, *lastAt, now)
		*score = clamp(*score + s.cfg.SuccessDelta)
		*success++
		*status = statusForScore(*score)
		*lastSuccess = &now
		*bounceRate = rate(*failed, *success)
	}

	_, err := s.repo.UpdateDomainReputation(ctx, domain, func(rep *models.DomainReputation) {
		apply(&rep.Score, &rep.SuccessfulDeliveries, &rep.FailedDeliveries, &rep.Status, &rep.UpdatedAt, &rep.LastSuccess, &rep.BounceRate)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if mxServer != "" {
		_, err = s.repo.UpdateMxReputation(ctx, mxServer, domain, func(rep *models.MxServerReputation) {
			apply(&rep.Score, &rep.SuccessfulDeliveries, &rep.FailedDeliveries, &rep.Status, &rep.UpdatedAt, &rep.LastSuccess, &rep.BounceRate)
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

func (s *reputationService) RecordFailure(ctx context.Context, domain, mxServer string, hardBounce bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReputationService.RecordFailure")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("domain", domain)
	span.SetTag("hardBounce", hardBounce)

	delta := s.cfg.SoftFailureDelta
	if hardBounce {
		delta = s.cfg.HardBounceDelta
	}

	now := utils.Now()
	apply := func(score *float64, success, failed *int64, status *enum.ReputationStatus, lastAt *time.Time, lastFailure **time.Time, bounceRate *float64) {
		*score = s.decayed(*score, *lastAt, now)
		*score = clamp(*score - delta)
		*failed++
		*status = statusForScore(*score)
		*lastFailure = &now
		*bounceRate = rate(*failed, *success)
	}

	rep, err := s.repo.UpdateDomainReputation(ctx, domain, func(rep *models.DomainReputation) {
		apply(&rep.Score, &rep.SuccessfulDeliveries, &rep.FailedDeliveries, &rep.Status, &rep.UpdatedAt, &rep.LastFailure, &rep.BounceRate)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if rep.Status == enum.ReputationStatusBad {
		s.log.Warnf("Domain %s reputation dropped to %s (score %.1f)", domain, rep.Status, rep.Score)
	}

	if mxServer != "" {
		_, err = s.repo.UpdateMxReputation(ctx, mxServer, domain, func(rep *models.MxServerReputation) {
			apply(&rep.Score, &rep.SuccessfulDeliveries, &rep.FailedDeliveries, &rep.Status, &rep.UpdatedAt, &rep.LastFailure, &rep.BounceRate)
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

func (s *reputationService) GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReputationService.GetDomainReputation")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	rep, err := s.repo.GetDomainReputation(ctx, domain)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if rep != nil {
		// Serve the decayed score without persisting it; the next recorded
		// outcome writes it back.
		rep.Score = s.decayed(rep.Score, rep.UpdatedAt, utils.Now())
		rep.Status = statusForScore(rep.Score)
	}
	return rep, nil
}

func (s *reputationService) GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReputationService.GetMxReputation")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	rep, err := s.repo.GetMxReputation(ctx, mxServer, domain)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if rep != nil {
		rep.Score = s.decayed(rep.Score, rep.UpdatedAt, utils.Now())
		rep.Status = statusForScore(rep.Score)
	}
	return rep, nil
}

// decayed halves the deficit below 100 once per elapsed half-life.
func (s *reputationService) decayed(score float64, lastUpdate, now time.Time) float64 {
	if s.cfg.DecayHalfLife <= 0 || lastUpdate.IsZero() || !now.After(lastUpdate) {
		return score
	}
	halfLives := now.Sub(lastUpdate).Hours() / s.cfg.DecayHalfLife.Hours()
	deficit := 100 - score
	return clamp(100 - deficit*math.Pow(0.5, halfLives))
}

func statusForScore(score float64) enum.ReputationStatus {
	switch {
	case score < thresholdBad:
		return enum.ReputationStatusBad
	case score < thresholdWarning:
		return enum.ReputationStatusWarning
	default:
		return enum.ReputationStatusGood
	}
}

func clamp(score float64) float64 {
	return math.Min(100, math.Max(0, score))
}

func rate(failed, success int64) float64 {
	total := failed + success
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
