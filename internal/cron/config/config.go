package cron_config

type Config struct {
	// Reclaim expired delivery leases, every minute
	CronScheduleReclaimLeases string `env:"CRON_SCHEDULE_RECLAIM_LEASES" envDefault:"0 * * * * *"`
	// Promote deferred jobs whose retry time arrived, every 30 seconds
	CronSchedulePromoteDeferred string `env:"CRON_SCHEDULE_PROMOTE_DEFERRED" envDefault:"*/30 * * * * *"`
	// Deactivate DKIM keys past their expiry, every hour
	CronScheduleExpireDkimKeys string `env:"CRON_SCHEDULE_EXPIRE_DKIM_KEYS" envDefault:"0 0 * * * *"`
	// Requeue webhook jobs abandoned mid-dispatch, every minute
	CronScheduleRequeueWebhooks string `env:"CRON_SCHEDULE_REQUEUE_WEBHOOKS" envDefault:"0 * * * * *"`
}
