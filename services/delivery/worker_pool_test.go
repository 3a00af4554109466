package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/dto"
	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/models"
	"github.com/customeros/sendstack/internal/utils"
)

// fakes shared by the worker pool and delivery service tests

type fakeJobRepo struct {
	byMessageID map[string]*models.DeliveryJob
	updated     *models.DeliveryJob
	cancelled   []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{byMessageID: map[string]*models.DeliveryJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, job *models.DeliveryJob) (*models.DeliveryJob, error) {
	if _, ok := f.byMessageID[job.MessageID]; ok {
		return nil, er.ErrDuplicateMessageID
	}
	if job.ID == "" {
		job.ID = "job_" + job.MessageID
	}
	f.byMessageID[job.MessageID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*models.DeliveryJob, error) {
	for _, job := range f.byMessageID {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, er.ErrJobNotFound
}

func (f *fakeJobRepo) GetByMessageID(ctx context.Context, messageID string) (*models.DeliveryJob, error) {
	job, ok := f.byMessageID[messageID]
	if !ok {
		return nil, er.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobRepo) LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*models.DeliveryJob, error) {
	return nil, nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job *models.DeliveryJob) error {
	f.updated = job
	return nil
}

func (f *fakeJobRepo) Cancel(ctx context.Context, tenant, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeJobRepo) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeJobRepo) PromoteDeferred(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeJobRepo) CountByStatus(ctx context.Context, tenant string) (map[enum.DeliveryStatus]int64, error) {
	counts := map[enum.DeliveryStatus]int64{}
	for _, job := range f.byMessageID {
		if job.Tenant == tenant {
			counts[job.Status]++
		}
	}
	return counts, nil
}

type fakeStorage struct {
	objects     map[string][]byte
	downloadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.objects[key], nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeSuppression struct {
	suppressed map[string]bool
	added      []*models.SuppressionEntry
}

func (f *fakeSuppression) IsSuppressed(ctx context.Context, tenant, email string) (bool, error) {
	return f.suppressed[email], nil
}

func (f *fakeSuppression) Add(ctx context.Context, entry *models.SuppressionEntry) error {
	f.added = append(f.added, entry)
	return nil
}

func (f *fakeSuppression) Remove(ctx context.Context, tenant, email string) error {
	return nil
}

func (f *fakeSuppression) List(ctx context.Context, tenant string, limit, offset int) ([]models.SuppressionEntry, error) {
	return nil, nil
}

type fakeReputation struct {
	successes int
	hardFails int
	softFails int
	mxRep     *models.MxServerReputation
}

func (f *fakeReputation) RecordSuccess(ctx context.Context, domain, mxServer string) error {
	f.successes++
	return nil
}

func (f *fakeReputation) RecordFailure(ctx context.Context, domain, mxServer string, hardBounce bool) error {
	if hardBounce {
		f.hardFails++
	} else {
		f.softFails++
	}
	return nil
}

func (f *fakeReputation) GetDomainReputation(ctx context.Context, domain string) (*models.DomainReputation, error) {
	return nil, nil
}

func (f *fakeReputation) GetMxReputation(ctx context.Context, mxServer, domain string) (*models.MxServerReputation, error) {
	return f.mxRep, nil
}

type fakeDkim struct {
	signErr error
}

func (f *fakeDkim) Sign(ctx context.Context, domain, selector string, message []byte) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "DKIM-Signature: v=1; d=" + domain + "; b=dGVzdA==\r\n", nil
}

func (f *fakeDkim) GenerateKey(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error) {
	return nil, nil
}

func (f *fakeDkim) Rotate(ctx context.Context, tenant, domain, selector string) (*models.DkimKey, error) {
	return nil, nil
}

func (f *fakeDkim) DNSRecord(ctx context.Context, domain, selector string) (string, string, error) {
	return "", "", nil
}

func (f *fakeDkim) ListKeys(ctx context.Context, domain string) ([]models.DkimKey, error) {
	return nil, nil
}

type fakeTransport struct {
	outcomes map[string]interfaces.TransportOutcome
	sentTo   []string
	lastMsg  interfaces.SignedMessage
}

func (f *fakeTransport) Send(ctx context.Context, msg interfaces.SignedMessage, targetMx string) interfaces.TransportOutcome {
	f.sentTo = append(f.sentTo, targetMx)
	f.lastMsg = msg
	return f.outcomes[targetMx]
}

type fakeResolver struct {
	records []interfaces.MXRecord
	err     error
}

func (f *fakeResolver) ResolveMx(ctx context.Context, domain string) ([]interfaces.MXRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakePublisher struct {
	events []dto.DeliveryLifecycle
}

func (f *fakePublisher) PublishDeliveryLifecycleEvent(ctx context.Context, message dto.DeliveryLifecycle) error {
	f.events = append(f.events, message)
	return nil
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func deliveryConfig() *config.DeliveryConfig {
	return &config.DeliveryConfig{
		WorkerCount:   1,
		PollInterval:  time.Second,
		LeaseDuration: 5 * time.Minute,
		MaxAttempts:   3,
		BackoffBase:   time.Minute,
		BackoffCap:    4 * time.Hour,
		SendTimeout:   5 * time.Second,
	}
}

type poolFixture struct {
	pool        *WorkerPool
	jobs        *fakeJobRepo
	storage     *fakeStorage
	suppression *fakeSuppression
	reputation  *fakeReputation
	dkim        *fakeDkim
	transport   *fakeTransport
	resolver    *fakeResolver
	publisher   *fakePublisher
}

func newPoolFixture() *poolFixture {
	f := &poolFixture{
		jobs:        newFakeJobRepo(),
		storage:     newFakeStorage(),
		suppression: &fakeSuppression{suppressed: map[string]bool{}},
		reputation:  &fakeReputation{},
		dkim:        &fakeDkim{},
		transport:   &fakeTransport{outcomes: map[string]interfaces.TransportOutcome{}},
		resolver:    &fakeResolver{records: []interfaces.MXRecord{{Host: "mx1.example.com", Priority: 10}}},
		publisher:   &fakePublisher{},
	}
	f.pool = NewWorkerPool(
		deliveryConfig(), getLogger(),
		f.jobs, f.suppression, f.reputation, f.dkim,
		f.storage, f.transport, f.resolver, f.publisher,
	)
	return f
}

func leasedJob(f *poolFixture) *models.DeliveryJob {
	job := &models.DeliveryJob{
		ID:          "job_test",
		Tenant:      "acme",
		MessageID:   "m1",
		FromAddress: "sender@acme.com",
		FromDomain:  "acme.com",
		ToAddress:   "rcpt@example.com",
		Subject:     "hello",
		BodyRef:     "acme/m1",
		Status:      enum.DeliveryStatusProcessing,
		MaxAttempts: 3,
	}
	f.storage.objects["acme/m1"] = []byte("plain body\r\n")
	return job
}

func TestProcessJob_DeliveredOutcome(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportDelivered, SMTPCode: 250, SMTPResponse: "accepted",
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusDelivered, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LeasedBy)
	assert.Nil(t, job.NextAttemptAt)
	assert.Equal(t, 1, f.reputation.successes)
	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, enum.LifecycleEventSent, f.publisher.events[0].EventType)
	assert.Equal(t, enum.LifecycleEventDelivered, f.publisher.events[1].EventType)
	assert.Equal(t, "m1", f.publisher.events[1].MessageID)
	assert.Equal(t, job, f.jobs.updated)

	// signed message carries the signature header on top of the wire message
	assert.Contains(t, string(f.transport.lastMsg.Raw), "DKIM-Signature:")
	assert.Contains(t, string(f.transport.lastMsg.Raw), "From: sender@acme.com\r\n")
	assert.Contains(t, string(f.transport.lastMsg.Raw), "Message-ID: <m1>\r\n")
}

func TestProcessJob_HardBounceSuppressesRecipient(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportPermanentReject, SMTPCode: 550, SMTPResponse: "user unknown",
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusBounced, job.Status)
	assert.Equal(t, enum.BounceTypeHard, job.BounceType)
	assert.Equal(t, 1, f.reputation.hardFails)
	require.Len(t, f.suppression.added, 1)
	assert.Equal(t, "rcpt@example.com", f.suppression.added[0].Email)
	assert.Equal(t, enum.SuppressionReasonBounce, f.suppression.added[0].Reason)
	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, enum.LifecycleEventSent, f.publisher.events[0].EventType)
	assert.Equal(t, enum.LifecycleEventBounced, f.publisher.events[1].EventType)
}

func TestProcessJob_TransientRejectDefersWithBackoff(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportTransientReject, SMTPCode: 451, SMTPResponse: "greylisted",
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusDeferred, job.Status)
	assert.Equal(t, enum.BounceTypeSoft, job.BounceType)
	assert.Equal(t, 1, f.reputation.softFails)
	require.NotNil(t, job.NextAttemptAt)
	assert.True(t, job.NextAttemptAt.After(time.Now()))
	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, enum.LifecycleEventSent, f.publisher.events[0].EventType)
	assert.Equal(t, enum.LifecycleEventDeferred, f.publisher.events[1].EventType)
}

func TestProcessJob_RetriesExhausted(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportTransientReject, SMTPCode: 421, SMTPResponse: "try later",
	}
	job := leasedJob(f)
	job.Attempts = 2 // third attempt is the last

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Nil(t, job.NextAttemptAt)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, enum.LifecycleEventFailed, f.publisher.events[0].EventType)
}

func TestProcessJob_SuppressedRecipientFailsWithoutTransport(t *testing.T) {
	f := newPoolFixture()
	f.suppression.suppressed["rcpt@example.com"] = true
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, f.transport.sentTo)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, enum.LifecycleEventFailed, f.publisher.events[0].EventType)
	assert.Equal(t, enum.FailureReasonSuppressed.String(), job.DeliveryReport["failureReason"])
}

func TestProcessJob_NoSigningKeyIsTerminal(t *testing.T) {
	f := newPoolFixture()
	f.dkim.signErr = er.ErrNoActiveKey
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusFailed, job.Status)
	assert.Empty(t, f.transport.sentTo)
	assert.Equal(t, enum.FailureReasonNoSigningKey.String(), job.DeliveryReport["failureReason"])
}

func TestProcessJob_StorageErrorReleasesWithoutAttempt(t *testing.T) {
	f := newPoolFixture()
	f.storage.downloadErr = errors.New("object storage unavailable")
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, enum.DeliveryStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	require.NotNil(t, job.NextAttemptAt)
	assert.Empty(t, f.transport.sentTo)
	assert.Empty(t, f.publisher.events)
}

func TestProcessJob_ConnectionErrorAdvancesToNextMx(t *testing.T) {
	f := newPoolFixture()
	f.resolver.records = []interfaces.MXRecord{
		{Host: "mx1.example.com", Priority: 10},
		{Host: "mx2.example.com", Priority: 20},
	}
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportConnectionError, SMTPResponse: "connection refused",
	}
	f.transport.outcomes["mx2.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportDelivered, SMTPCode: 250,
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, f.transport.sentTo)
	assert.Equal(t, enum.DeliveryStatusDelivered, job.Status)
}

func TestProcessJob_PermanentRejectDoesNotTryNextMx(t *testing.T) {
	f := newPoolFixture()
	f.resolver.records = []interfaces.MXRecord{
		{Host: "mx1.example.com", Priority: 10},
		{Host: "mx2.example.com", Priority: 20},
	}
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportPermanentReject, SMTPCode: 550,
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.Equal(t, []string{"mx1.example.com"}, f.transport.sentTo)
	assert.Equal(t, enum.DeliveryStatusBounced, job.Status)
}

func TestProcessJob_SentEmittedOnlyOnFirstHandOff(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportTransientReject, SMTPCode: 451, SMTPResponse: "greylisted",
	}
	job := leasedJob(f)

	f.pool.processJob(context.Background(), "worker-0", job)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, enum.LifecycleEventSent, f.publisher.events[0].EventType)
	assert.Equal(t, enum.LifecycleEventDeferred, f.publisher.events[1].EventType)

	// the retry announces only its own outcome
	job.Status = enum.DeliveryStatusProcessing
	f.pool.processJob(context.Background(), "worker-0", job)

	require.Len(t, f.publisher.events, 3)
	assert.Equal(t, enum.LifecycleEventDeferred, f.publisher.events[2].EventType)
}

func TestProcessJob_GeneratedMessageIDBracketedOnce(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportDelivered, SMTPCode: 250,
	}
	job := leasedJob(f)
	job.MessageID = utils.GenerateMessageID("acme.com", "")
	job.BodyRef = "acme/" + job.MessageID
	f.storage.objects[job.BodyRef] = []byte("plain body\r\n")

	f.pool.processJob(context.Background(), "worker-0", job)

	assert.NotContains(t, job.MessageID, "<")
	raw := string(f.transport.lastMsg.Raw)
	assert.Contains(t, raw, "Message-ID: <"+job.MessageID+">\r\n")
	assert.NotContains(t, raw, "<<")
}

func TestProcessJob_BracketedMessageIDNotDoubleWrapped(t *testing.T) {
	f := newPoolFixture()
	f.transport.outcomes["mx1.example.com"] = interfaces.TransportOutcome{
		Result: interfaces.TransportDelivered, SMTPCode: 250,
	}
	job := leasedJob(f)
	job.MessageID = "<legacy@acme.com>"
	job.BodyRef = "acme/legacy"
	f.storage.objects[job.BodyRef] = []byte("plain body\r\n")

	f.pool.processJob(context.Background(), "worker-0", job)

	raw := string(f.transport.lastMsg.Raw)
	assert.Contains(t, raw, "Message-ID: <legacy@acme.com>\r\n")
	assert.NotContains(t, raw, "<<")
}

func TestNextBackoff_DoublesAndCaps(t *testing.T) {
	f := newPoolFixture()
	ctx := context.Background()
	job := &models.DeliveryJob{FromDomain: "acme.com"}

	job.Attempts = 1
	assert.Equal(t, time.Minute, f.pool.nextBackoff(ctx, job, ""))

	job.Attempts = 2
	assert.Equal(t, 2*time.Minute, f.pool.nextBackoff(ctx, job, ""))

	job.Attempts = 4
	assert.Equal(t, 8*time.Minute, f.pool.nextBackoff(ctx, job, ""))

	job.Attempts = 20
	assert.Equal(t, 4*time.Hour, f.pool.nextBackoff(ctx, job, ""))
}

func TestNextBackoff_StretchedByMxReputationTier(t *testing.T) {
	f := newPoolFixture()
	ctx := context.Background()
	job := &models.DeliveryJob{FromDomain: "acme.com", Attempts: 1}

	f.reputation.mxRep = &models.MxServerReputation{Status: enum.ReputationStatusWarning}
	assert.Equal(t, 2*time.Minute, f.pool.nextBackoff(ctx, job, "mx1.example.com"))

	f.reputation.mxRep = &models.MxServerReputation{Status: enum.ReputationStatusBad}
	assert.Equal(t, 4*time.Minute, f.pool.nextBackoff(ctx, job, "mx1.example.com"))

	// the tier multiplier still respects the cap
	job.Attempts = 20
	assert.Equal(t, 4*time.Hour, f.pool.nextBackoff(ctx, job, "mx1.example.com"))
}

func TestNormalizeCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", string(normalizeCRLF([]byte("a\nb\n"))))
	assert.Equal(t, "a\r\nb\r\n", string(normalizeCRLF([]byte("a\r\nb\r\n"))))
	assert.Equal(t, "plain", string(normalizeCRLF([]byte("plain"))))
}
