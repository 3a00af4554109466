package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/config"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
)

type fakeWebhookJobStore struct {
	webhook *models.Webhook
	getErr  error
	logs    []*models.WebhookLog
	updated *models.WebhookJob
}

func (f *fakeWebhookJobStore) GetByID(ctx context.Context, tenant, id string) (*models.Webhook, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.webhook == nil {
		return nil, er.ErrWebhookNotFound
	}
	return f.webhook, nil
}

func (f *fakeWebhookJobStore) LeaseDueJobs(ctx context.Context, limit int) ([]models.WebhookJob, error) {
	return nil, nil
}

func (f *fakeWebhookJobStore) UpdateJob(ctx context.Context, job *models.WebhookJob) error {
	f.updated = job
	return nil
}

func (f *fakeWebhookJobStore) AppendLog(ctx context.Context, log *models.WebhookLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func newTestPool(store *fakeWebhookJobStore) *DispatcherPool {
	return &DispatcherPool{
		cfg: &config.WebhookConfig{
			DispatcherCount: 1,
			PollInterval:    time.Second,
			RetryInterval:   time.Minute,
			RetryBackoffCap: time.Hour,
		},
		log:    getLogger(),
		repo:   store,
		client: &http.Client{},
	}
}

func testJob() *models.WebhookJob {
	return &models.WebhookJob{
		ID:         "whj_test",
		Tenant:     "acme",
		WebhookID:  "hook_test",
		EventType:  enum.LifecycleEventDelivered,
		MessageID:  "msg-1",
		Payload:    models.JSONMap{"jobId": "job_1"},
		MaxRetries: 3,
		Status:     enum.WebhookJobStatusProcessing,
	}
}

func TestDispatch_SuccessSignsAndDelivers(t *testing.T) {
	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Sendstack-Signature")
		gotEvent = r.Header.Get("X-Sendstack-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &fakeWebhookJobStore{
		webhook: &models.Webhook{
			ID:        "hook_test",
			Tenant:    "acme",
			URL:       server.URL,
			Secret:    "whsec_testsecret",
			Enabled:   true,
			TimeoutMs: 5000,
		},
	}
	pool := newTestPool(store)
	job := testJob()

	pool.dispatch(context.Background(), job)

	assert.Equal(t, enum.WebhookJobStatusDelivered, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.NotNil(t, job.ProcessedAt)
	require.Len(t, store.logs, 1)
	assert.True(t, store.logs[0].Success)
	assert.Equal(t, http.StatusOK, store.logs[0].StatusCode)

	assert.Equal(t, "delivered", gotEvent)

	// signature must verify against the exact body bytes
	mac := hmac.New(sha256.New, []byte("whsec_testsecret"))
	mac.Write(gotBody)
	expected := fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
	assert.Equal(t, expected, gotSignature)

	var notification notificationBody
	require.NoError(t, json.Unmarshal(gotBody, &notification))
	assert.Equal(t, "delivered", notification.EventType)
	assert.Equal(t, "msg-1", notification.MessageID)
}

func TestDispatch_FailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := &fakeWebhookJobStore{
		webhook: &models.Webhook{
			ID: "hook_test", Tenant: "acme", URL: server.URL,
			Secret: "s", Enabled: true, TimeoutMs: 5000,
		},
	}
	pool := newTestPool(store)
	job := testJob()

	before := time.Now()
	pool.dispatch(context.Background(), job)

	assert.Equal(t, enum.WebhookJobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Nil(t, job.ProcessedAt)
	assert.True(t, job.ScheduledAt.After(before))
	require.Len(t, store.logs, 1)
	assert.False(t, store.logs[0].Success)
	assert.Equal(t, http.StatusBadGateway, store.logs[0].StatusCode)
}

func TestDispatch_RetryDelayGrowsPerAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := &fakeWebhookJobStore{
		webhook: &models.Webhook{
			ID: "hook_test", Tenant: "acme", URL: server.URL,
			Secret: "s", Enabled: true, TimeoutMs: 5000,
		},
	}
	pool := newTestPool(store)
	job := testJob()
	job.MaxRetries = 5

	pool.dispatch(context.Background(), job)
	firstDelay := time.Until(job.ScheduledAt)

	pool.dispatch(context.Background(), job)
	secondDelay := time.Until(job.ScheduledAt)

	assert.Greater(t, secondDelay, firstDelay)
}

func TestRetryBackoff_DoublesAndCaps(t *testing.T) {
	pool := newTestPool(&fakeWebhookJobStore{})

	assert.Equal(t, time.Minute, pool.retryBackoff(1))
	assert.Equal(t, 2*time.Minute, pool.retryBackoff(2))
	assert.Equal(t, 8*time.Minute, pool.retryBackoff(4))
	assert.Equal(t, time.Hour, pool.retryBackoff(20))
}

func TestDispatch_ExhaustedRetriesAreTerminal(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeWebhookJobStore{
		webhook: &models.Webhook{
			ID: "hook_test", Tenant: "acme", URL: server.URL,
			Secret: "s", Enabled: true, TimeoutMs: 5000,
		},
	}
	pool := newTestPool(store)
	job := testJob()

	// three failing attempts, each appending its own log row
	for i := 0; i < 3; i++ {
		pool.dispatch(context.Background(), job)
	}

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, enum.WebhookJobStatusFailed, job.Status)
	assert.NotNil(t, job.ProcessedAt)
	require.Len(t, store.logs, 3)
	for i, entry := range store.logs {
		assert.Equal(t, i+1, entry.Attempt)
		assert.False(t, entry.Success)
	}
}

func TestDispatch_MissingWebhookIsTerminal(t *testing.T) {
	store := &fakeWebhookJobStore{}
	pool := newTestPool(store)
	job := testJob()

	pool.dispatch(context.Background(), job)

	assert.Equal(t, enum.WebhookJobStatusFailed, job.Status)
	assert.NotNil(t, job.ProcessedAt)
	assert.Empty(t, store.logs)
	assert.Equal(t, job, store.updated)
}

func TestDispatch_WebhookLookupErrorLeavesJobForSweeper(t *testing.T) {
	store := &fakeWebhookJobStore{getErr: errors.New("connection refused")}
	pool := newTestPool(store)
	job := testJob()

	pool.dispatch(context.Background(), job)

	// no attempt burned, no terminal state; the stuck-job sweeper requeues it
	assert.Equal(t, enum.WebhookJobStatusProcessing, job.Status)
	assert.Zero(t, job.Attempt)
	assert.Nil(t, job.ProcessedAt)
	assert.Nil(t, store.updated)
	assert.Empty(t, store.logs)
}

func TestDispatch_UnreachableEndpointLogsError(t *testing.T) {
	store := &fakeWebhookJobStore{
		webhook: &models.Webhook{
			ID: "hook_test", Tenant: "acme",
			URL:    "http://127.0.0.1:1/webhook",
			Secret: "s", Enabled: true, TimeoutMs: 1000,
		},
	}
	pool := newTestPool(store)
	job := testJob()

	pool.dispatch(context.Background(), job)

	assert.Equal(t, enum.WebhookJobStatusPending, job.Status)
	require.Len(t, store.logs, 1)
	assert.False(t, store.logs[0].Success)
	assert.NotEmpty(t, store.logs[0].ErrorMessage)
	assert.Zero(t, store.logs[0].StatusCode)
}
