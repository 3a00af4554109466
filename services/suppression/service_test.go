package suppression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
)

type fakeSuppressionRepo struct {
	upserted  []*models.SuppressionEntry
	deleted   []string
	listLimit int
}

func (f *fakeSuppressionRepo) IsSuppressed(ctx context.Context, tenant, email string) (bool, error) {
	for _, e := range f.upserted {
		if e.Email == email && (e.Tenant == "" || e.Tenant == tenant) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSuppressionRepo) Upsert(ctx context.Context, entry *models.SuppressionEntry) error {
	f.upserted = append(f.upserted, entry)
	return nil
}

func (f *fakeSuppressionRepo) Delete(ctx context.Context, tenant, email string) error {
	f.deleted = append(f.deleted, email)
	return nil
}

func (f *fakeSuppressionRepo) List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error) {
	f.listLimit = limit
	return nil, nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func TestAdd_NormalizesEmail(t *testing.T) {
	repo := &fakeSuppressionRepo{}
	s := NewSuppressionService(getLogger(), repo)

	err := s.Add(context.Background(), &models.SuppressionEntry{
		Tenant: "acme",
		Email:  "  Bounced@Example.COM ",
		Reason: enum.SuppressionReasonBounce,
	})
	require.NoError(t, err)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, "bounced@example.com", repo.upserted[0].Email)
}

func TestAdd_RequiresEmailAndReason(t *testing.T) {
	s := NewSuppressionService(getLogger(), &fakeSuppressionRepo{})

	err := s.Add(context.Background(), &models.SuppressionEntry{Tenant: "acme", Reason: enum.SuppressionReasonManual})
	assert.Error(t, err)

	err = s.Add(context.Background(), &models.SuppressionEntry{Tenant: "acme", Email: "a@b.com"})
	assert.Error(t, err)
}

func TestIsSuppressed_GlobalEntryAlsoApplies(t *testing.T) {
	repo := &fakeSuppressionRepo{}
	s := NewSuppressionService(getLogger(), repo)
	ctx := context.Background()

	err := s.Add(ctx, &models.SuppressionEntry{Email: "spamtrap@example.com", Reason: enum.SuppressionReasonGlobal})
	require.NoError(t, err)

	suppressed, err := s.IsSuppressed(ctx, "acme", "spamtrap@example.com")
	require.NoError(t, err)
	assert.True(t, suppressed)

	suppressed, err = s.IsSuppressed(ctx, "other", "spamtrap@example.com")
	require.NoError(t, err)
	assert.True(t, suppressed)
}

func TestList_ClampsLimit(t *testing.T) {
	repo := &fakeSuppressionRepo{}
	s := NewSuppressionService(getLogger(), repo)
	ctx := context.Background()

	_, err := s.List(ctx, "acme", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, repo.listLimit)

	_, err = s.List(ctx, "acme", 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, repo.listLimit)

	_, err = s.List(ctx, "acme", 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, repo.listLimit)
}
