package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/sendstack/interfaces"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/utils"
)

type fakePool struct {
	wakes int
}

func (f *fakePool) Start(ctx context.Context) error { return nil }
func (f *fakePool) Stop()                           {}
func (f *fakePool) Wake()                           { f.wakes++ }

type serviceFixture struct {
	service interfaces.DeliveryService
	jobs    *fakeJobRepo
	storage *fakeStorage
	pool    *fakePool
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		jobs:    newFakeJobRepo(),
		storage: newFakeStorage(),
		pool:    &fakePool{},
	}
	f.service = NewDeliveryService(deliveryConfig(), getLogger(), f.jobs, f.storage, f.pool)
	return f
}

func tenantCtx(tenant string) context.Context {
	return utils.SetTenantInContext(context.Background(), tenant)
}

func enqueueRequest() *interfaces.EnqueueMessageRequest {
	return &interfaces.EnqueueMessageRequest{
		MessageID:   "msg-1@acme.com",
		FromAddress: "Sender@Acme.com",
		ToAddress:   "rcpt@example.com",
		Subject:     "hello",
		Body:        "message body",
	}
}

func TestEnqueue_CreatesPendingJob(t *testing.T) {
	f := newServiceFixture()

	job, err := f.service.Enqueue(tenantCtx("acme"), enqueueRequest())

	require.NoError(t, err)
	assert.Equal(t, "acme", job.Tenant)
	assert.Equal(t, "msg-1@acme.com", job.MessageID)
	assert.Equal(t, "sender@acme.com", job.FromAddress)
	assert.Equal(t, "acme.com", job.FromDomain)
	assert.Equal(t, "rcpt@example.com", job.ToAddress)
	assert.Equal(t, enum.DeliveryStatusPending, job.Status)
	assert.Equal(t, 100, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	require.NotNil(t, job.NextAttemptAt)

	assert.Equal(t, "acme/msg-1@acme.com", job.BodyRef)
	assert.Equal(t, []byte("message body"), f.storage.objects[job.BodyRef])
	assert.Equal(t, 1, f.pool.wakes)
}

func TestEnqueue_DuplicateMessageIDReturnsExistingJob(t *testing.T) {
	f := newServiceFixture()
	ctx := tenantCtx("acme")

	first, err := f.service.Enqueue(ctx, enqueueRequest())
	require.NoError(t, err)

	again := enqueueRequest()
	again.Subject = "different subject"
	second, err := f.service.Enqueue(ctx, again)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hello", second.Subject)
	// only the first enqueue wakes a worker
	assert.Equal(t, 1, f.pool.wakes)
}

func TestEnqueue_DuplicateKeepsStoredBody(t *testing.T) {
	f := newServiceFixture()
	ctx := tenantCtx("acme")

	first, err := f.service.Enqueue(ctx, enqueueRequest())
	require.NoError(t, err)

	again := enqueueRequest()
	again.Body = "tampered body"
	second, err := f.service.Enqueue(ctx, again)

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []byte("message body"), f.storage.objects[first.BodyRef])
}

func TestEnqueue_RequiresTenant(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Enqueue(context.Background(), enqueueRequest())

	assert.ErrorIs(t, err, er.ErrTenantMissing)
}

func TestEnqueue_ValidatesRequest(t *testing.T) {
	f := newServiceFixture()
	ctx := tenantCtx("acme")

	request := enqueueRequest()
	request.FromAddress = ""
	_, err := f.service.Enqueue(ctx, request)
	assert.EqualError(t, err, "from address is required")

	request = enqueueRequest()
	request.ToAddress = "not an address"
	_, err = f.service.Enqueue(ctx, request)
	assert.EqualError(t, err, "to address is not valid")

	request = enqueueRequest()
	request.Body = ""
	_, err = f.service.Enqueue(ctx, request)
	assert.EqualError(t, err, "message body is required")
}

func TestEnqueue_GeneratesMessageIDWhenMissing(t *testing.T) {
	f := newServiceFixture()

	request := enqueueRequest()
	request.MessageID = ""
	job, err := f.service.Enqueue(tenantCtx("acme"), request)

	require.NoError(t, err)
	assert.NotEmpty(t, job.MessageID)
	assert.Contains(t, job.MessageID, "@acme.com")
	assert.NotContains(t, job.MessageID, "<")
}

func TestEnqueue_HonorsExplicitPriority(t *testing.T) {
	f := newServiceFixture()

	priority := 5
	request := enqueueRequest()
	request.Priority = &priority
	job, err := f.service.Enqueue(tenantCtx("acme"), request)

	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
}

func TestGetJob_OtherTenantSeesNotFound(t *testing.T) {
	f := newServiceFixture()

	job, err := f.service.Enqueue(tenantCtx("acme"), enqueueRequest())
	require.NoError(t, err)

	got, err := f.service.GetJob(tenantCtx("acme"), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.service.GetJob(tenantCtx("rival"), job.ID)
	assert.ErrorIs(t, err, er.ErrJobNotFound)
}

func TestGetJobByMessageID_OtherTenantSeesNotFound(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Enqueue(tenantCtx("acme"), enqueueRequest())
	require.NoError(t, err)

	got, err := f.service.GetJobByMessageID(tenantCtx("acme"), "msg-1@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "msg-1@acme.com", got.MessageID)

	_, err = f.service.GetJobByMessageID(tenantCtx("rival"), "msg-1@acme.com")
	assert.ErrorIs(t, err, er.ErrJobNotFound)
}

func TestCountByStatus_IsTenantScoped(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.Enqueue(tenantCtx("acme"), enqueueRequest())
	require.NoError(t, err)

	counts, err := f.service.CountByStatus(tenantCtx("acme"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[enum.DeliveryStatusPending])

	counts, err = f.service.CountByStatus(tenantCtx("rival"))
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = f.service.CountByStatus(context.Background())
	assert.ErrorIs(t, err, er.ErrTenantMissing)
}

func TestCancel_RequiresTenant(t *testing.T) {
	f := newServiceFixture()

	err := f.service.Cancel(context.Background(), "job_x")

	assert.ErrorIs(t, err, er.ErrTenantMissing)
}

func TestCancel_ForwardsToRepository(t *testing.T) {
	f := newServiceFixture()

	job, err := f.service.Enqueue(tenantCtx("acme"), enqueueRequest())
	require.NoError(t, err)

	err = f.service.Cancel(tenantCtx("acme"), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, f.jobs.cancelled)
}
