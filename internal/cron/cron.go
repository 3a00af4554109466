package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/sendstack/config"
	"github.com/customeros/sendstack/interfaces"
	cron_config "github.com/customeros/sendstack/internal/cron/config"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/repository"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// CONSTANTS
const (
	// GroupSendstack is the group for sendstack related jobs
	GroupSendstack = "sendstack"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSendstack: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg    *config.Config
	log    logger.Logger
	cron   *cronv3.Cron
	k8s    kubernetes.Interface
	stopCh chan struct{}
	jobIDs map[string]cronv3.EntryID
	repos  *repository.Repositories
	pool   interfaces.DeliveryWorkerPool
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, repos *repository.Repositories, pool interfaces.DeliveryWorkerPool) *CronManager {
	return &CronManager{
		cfg:    cfg,
		log:    log,
		k8s:    k8s,
		stopCh: make(chan struct{}),
		jobIDs: make(map[string]cronv3.EntryID),
		repos:  repos,
		pool:   pool,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	// If k8s client is nil or we're in local development, start in local mode
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	// Create the leader election lock
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "sendstack-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	// Channel to track leader election errors
	errCh := make(chan error, 1)

	// Start leader election
	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
		// Leader election seems to be working, continue normally
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	// Load cron config from environment variables
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleReclaimLeases != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleReclaimLeases, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSendstack].Lock()
			defer jobLocks.locks[GroupSendstack].Unlock()
			cm.reclaimExpiredLeases()
		})
		if err != nil {
			cm.log.Fatalf("Could not add lease reclaim cron job: %v", err)
		}
		cm.jobIDs["reclaim_leases"] = id
		cm.log.Infof("Registered lease reclaim job with schedule: %s", cronConfig.CronScheduleReclaimLeases)
	}

	if cronConfig.CronSchedulePromoteDeferred != "" {
		id, err := c.AddFunc(cronConfig.CronSchedulePromoteDeferred, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSendstack].Lock()
			defer jobLocks.locks[GroupSendstack].Unlock()
			cm.promoteDeferredJobs()
		})
		if err != nil {
			cm.log.Fatalf("Could not add deferred promotion cron job: %v", err)
		}
		cm.jobIDs["promote_deferred"] = id
		cm.log.Infof("Registered deferred promotion job with schedule: %s", cronConfig.CronSchedulePromoteDeferred)
	}

	if cronConfig.CronScheduleExpireDkimKeys != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleExpireDkimKeys, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSendstack].Lock()
			defer jobLocks.locks[GroupSendstack].Unlock()
			cm.expireDkimKeys()
		})
		if err != nil {
			cm.log.Fatalf("Could not add DKIM key expiry cron job: %v", err)
		}
		cm.jobIDs["expire_dkim_keys"] = id
		cm.log.Infof("Registered DKIM key expiry job with schedule: %s", cronConfig.CronScheduleExpireDkimKeys)
	}

	if cronConfig.CronScheduleRequeueWebhooks != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleRequeueWebhooks, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSendstack].Lock()
			defer jobLocks.locks[GroupSendstack].Unlock()
			cm.requeueStuckWebhookJobs()
		})
		if err != nil {
			cm.log.Fatalf("Could not add webhook requeue cron job: %v", err)
		}
		cm.jobIDs["requeue_webhooks"] = id
		cm.log.Infof("Registered webhook requeue job with schedule: %s", cronConfig.CronScheduleRequeueWebhooks)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger), // Skip if still running
			cronv3.Recover(cronv3.DefaultLogger),            // Default recovery as backup
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) reclaimExpiredLeases() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.reclaimExpiredLeases")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	reclaimed, err := cm.repos.DeliveryJobRepository.ReclaimExpiredLeases(ctx, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to reclaim expired leases: %v", err)
		return
	}
	if reclaimed > 0 {
		cm.log.Infof("Reclaimed %d expired delivery leases", reclaimed)
		if cm.pool != nil {
			cm.pool.Wake()
		}
	}
}

func (cm *CronManager) promoteDeferredJobs() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.promoteDeferredJobs")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	promoted, err := cm.repos.DeliveryJobRepository.PromoteDeferred(ctx, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to promote deferred jobs: %v", err)
		return
	}
	if promoted > 0 {
		cm.log.Infof("Promoted %d deferred jobs for retry", promoted)
		if cm.pool != nil {
			cm.pool.Wake()
		}
	}
}

func (cm *CronManager) expireDkimKeys() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.expireDkimKeys")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	expired, err := cm.repos.DkimKeyRepository.ListExpired(ctx, utils.Now())
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list expired DKIM keys: %v", err)
		return
	}

	for _, key := range expired {
		if err := cm.repos.DkimKeyRepository.Deactivate(ctx, key.ID); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to deactivate DKIM key %s: %v", key.ID, err)
			continue
		}
		cm.log.Warnf("Deactivated expired DKIM key %s for domain %s, signing is disabled until a new key is generated", key.ID, key.Domain)
	}
}

func (cm *CronManager) requeueStuckWebhookJobs() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.requeueStuckWebhookJobs")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	requeued, err := cm.repos.WebhookRepository.RequeueStuckJobs(ctx, cm.cfg.WebhookConfig.StuckJobAfter)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to requeue stuck webhook jobs: %v", err)
		return
	}
	if requeued > 0 {
		cm.log.Infof("Requeued %d stuck webhook jobs", requeued)
	}
}
