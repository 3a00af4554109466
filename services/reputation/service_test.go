package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
)

type fakeReputationRepo struct {
	domain *models.DomainReputation
	mx     *models.MxServerReputation
}

func (f *fakeReputationRepo) GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error) {
	return f.domain, nil
}

func (f *fakeReputationRepo) GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error) {
	return f.mx, nil
}

func (f *fakeReputationRepo) UpdateDomainReputation(ctx context.Context, domain string, fn func(rep *models.DomainReputation)) (*models.DomainReputation, error) {
	if f.domain == nil {
		f.domain = &models.DomainReputation{Domain: domain, Score: 100, Status: enum.ReputationStatusGood}
	}
	fn(f.domain)
	return f.domain, nil
}

func (f *fakeReputationRepo) UpdateMxReputation(ctx context.Context, mxServer, domain string, fn func(rep *models.MxServerReputation)) (*models.MxServerReputation, error) {
	if f.mx == nil {
		f.mx = &models.MxServerReputation{MxServer: mxServer, Domain: domain, Score: 100, Status: enum.ReputationStatusGood}
	}
	fn(f.mx)
	return f.mx, nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func testConfig() *config.ReputationConfig {
	return &config.ReputationConfig{
		DecayHalfLife:    168 * time.Hour,
		SuccessDelta:     1,
		SoftFailureDelta: 3,
		HardBounceDelta:  10,
	}
}

func newTestService(repo *fakeReputationRepo) *reputationService {
	return &reputationService{cfg: testConfig(), log: getLogger(), repo: repo}
}

func TestRecordFailure_HardBounceDropsScoreFaster(t *testing.T) {
	repo := &fakeReputationRepo{}
	s := newTestService(repo)
	ctx := context.Background()

	err := s.RecordFailure(ctx, "example.com", "mx1.example.com", false)
	require.NoError(t, err)
	assert.InDelta(t, 97, repo.domain.Score, 0.001)

	err = s.RecordFailure(ctx, "example.com", "mx1.example.com", true)
	require.NoError(t, err)
	assert.InDelta(t, 87, repo.domain.Score, 0.001)
	assert.Equal(t, int64(2), repo.domain.FailedDeliveries)
	assert.InDelta(t, 1.0, repo.domain.BounceRate, 0.001)
	assert.Equal(t, int64(2), repo.mx.FailedDeliveries)
}

func TestRecordSuccess_RecoversScoreAndBounceRate(t *testing.T) {
	repo := &fakeReputationRepo{
		domain: &models.DomainReputation{Domain: "example.com", Score: 50, FailedDeliveries: 1, UpdatedAt: time.Now()},
	}
	s := newTestService(repo)

	err := s.RecordSuccess(context.Background(), "example.com", "")
	require.NoError(t, err)
	assert.InDelta(t, 51, repo.domain.Score, 0.001)
	assert.Equal(t, int64(1), repo.domain.SuccessfulDeliveries)
	assert.InDelta(t, 0.5, repo.domain.BounceRate, 0.001)
	assert.Nil(t, repo.mx)
}

func TestStatusForScore_Thresholds(t *testing.T) {
	assert.Equal(t, enum.ReputationStatusBad, statusForScore(0))
	assert.Equal(t, enum.ReputationStatusBad, statusForScore(39.9))
	assert.Equal(t, enum.ReputationStatusWarning, statusForScore(40))
	assert.Equal(t, enum.ReputationStatusWarning, statusForScore(74.9))
	assert.Equal(t, enum.ReputationStatusGood, statusForScore(75))
	assert.Equal(t, enum.ReputationStatusGood, statusForScore(100))
}

func TestDecayed_DeficitHalvesPerHalfLife(t *testing.T) {
	s := newTestService(&fakeReputationRepo{})
	now := time.Now()

	// one half-life: deficit 40 becomes 20
	score := s.decayed(60, now.Add(-168*time.Hour), now)
	assert.InDelta(t, 80, score, 0.001)

	// two half-lives: deficit 40 becomes 10
	score = s.decayed(60, now.Add(-336*time.Hour), now)
	assert.InDelta(t, 90, score, 0.001)

	// no elapsed time: unchanged
	score = s.decayed(60, now, now)
	assert.InDelta(t, 60, score, 0.001)

	// zero time recorded: unchanged
	score = s.decayed(60, time.Time{}, now)
	assert.InDelta(t, 60, score, 0.001)
}

func TestGetDomainReputation_ServesDecayedScore(t *testing.T) {
	repo := &fakeReputationRepo{
		domain: &models.DomainReputation{
			Domain:    "example.com",
			Score:     20,
			Status:    enum.ReputationStatusBad,
			UpdatedAt: time.Now().Add(-168 * time.Hour),
		},
	}
	s := newTestService(repo)

	rep, err := s.GetDomainReputation(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.InDelta(t, 60, rep.Score, 0.1)
	assert.Equal(t, enum.ReputationStatusWarning, rep.Status)
}

func TestClamp_BoundsScore(t *testing.T) {
	assert.Equal(t, 100.0, clamp(150))
	assert.Equal(t, 0.0, clamp(-5))
	assert.Equal(t, 42.0, clamp(42))
}
