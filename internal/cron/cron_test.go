package cron

import (
	"os"
	"testing"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"k8s.io/client-go/kubernetes"

	"github.com/customeros/sendstack/config"
	cron_config "github.com/customeros/sendstack/internal/cron/config"
	"github.com/customeros/sendstack/internal/logger"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := &config.Config{
		AppConfig: &config.AppConfig{
			Logger: &logger.Config{
				LogLevel: "info",
			},
		},
		WebhookConfig: &config.WebhookConfig{},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	// Act
	cm := NewCronManager(cfg, log, k8s, nil, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_JobRegistration(t *testing.T) {
	os.Setenv("CRON_SCHEDULE_RECLAIM_LEASES", "0 * * * * *")
	os.Setenv("CRON_SCHEDULE_PROMOTE_DEFERRED", "*/30 * * * * *")
	os.Setenv("CRON_SCHEDULE_EXPIRE_DKIM_KEYS", "0 0 * * * *")
	os.Setenv("CRON_SCHEDULE_REQUEUE_WEBHOOKS", "0 * * * * *")
	defer os.Unsetenv("CRON_SCHEDULE_RECLAIM_LEASES")
	defer os.Unsetenv("CRON_SCHEDULE_PROMOTE_DEFERRED")
	defer os.Unsetenv("CRON_SCHEDULE_EXPIRE_DKIM_KEYS")
	defer os.Unsetenv("CRON_SCHEDULE_REQUEUE_WEBHOOKS")

	// Arrange
	cfg := &config.Config{
		AppConfig: &config.AppConfig{
			Logger: &logger.Config{
				LogLevel: "info",
			},
		},
		WebhookConfig: &config.WebhookConfig{},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(cfg, log, k8s, nil, nil)

	mockCron := cronv3.New(cronv3.WithSeconds())

	var cronConfig cron_config.Config
	cronConfig.CronScheduleReclaimLeases = "0 * * * * *"
	cronConfig.CronSchedulePromoteDeferred = "*/30 * * * * *"
	cronConfig.CronScheduleExpireDkimKeys = "0 0 * * * *"
	cronConfig.CronScheduleRequeueWebhooks = "0 * * * * *"

	// Act - register jobs manually
	id, err := mockCron.AddFunc(cronConfig.CronScheduleReclaimLeases, func() {})
	assert.NoError(t, err)
	cm.jobIDs["reclaim_leases"] = id

	promoteId, err := mockCron.AddFunc(cronConfig.CronSchedulePromoteDeferred, func() {})
	assert.NoError(t, err)
	cm.jobIDs["promote_deferred"] = promoteId

	expireId, err := mockCron.AddFunc(cronConfig.CronScheduleExpireDkimKeys, func() {})
	assert.NoError(t, err)
	cm.jobIDs["expire_dkim_keys"] = expireId

	requeueId, err := mockCron.AddFunc(cronConfig.CronScheduleRequeueWebhooks, func() {})
	assert.NoError(t, err)
	cm.jobIDs["requeue_webhooks"] = requeueId

	cm.cron = mockCron

	// Assert
	assert.NotNil(t, cm.cron)
	assert.Equal(t, 4, len(cm.jobIDs))
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cfg := &config.Config{
		AppConfig: &config.AppConfig{
			Logger: &logger.Config{
				LogLevel: "info",
			},
		},
		WebhookConfig: &config.WebhookConfig{},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(cfg, log, k8s, nil, nil)

	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	// Act
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
		// Channel is closed as expected
	default:
		t.Error("Stop channel was not closed")
	}
}
