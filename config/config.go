package config

import (
	"time"

	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12333"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

type SendstackDatabaseConfig struct {
	Host            string `env:"SENDSTACK_POSTGRES_HOST,required"`
	Port            string `env:"SENDSTACK_POSTGRES_PORT,required"`
	User            string `env:"SENDSTACK_POSTGRES_USER,required"`
	DBName          string `env:"SENDSTACK_POSTGRES_DB_NAME,required"`
	Password        string `env:"SENDSTACK_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"SENDSTACK_POSTGRES_DB_MAX_CONN" envDefault:"100"`
	MaxIdleConn     int    `env:"SENDSTACK_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"SENDSTACK_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"3600"`
	LogLevel        string `env:"SENDSTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"SENDSTACK_POSTGRES_SSL_MODE"`
}

type R2StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID,required"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID,required"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET,required"`
	MessageBucket   string `env:"BUCKET_NAME_MESSAGE_BODY" envDefault:"message-bodies"`
}

type DeliveryConfig struct {
	WorkerCount     int           `env:"DELIVERY_WORKER_COUNT" envDefault:"8"`
	PollInterval    time.Duration `env:"DELIVERY_POLL_INTERVAL" envDefault:"2s"`
	LeaseDuration   time.Duration `env:"DELIVERY_LEASE_DURATION" envDefault:"5m"`
	MaxAttempts     int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase     time.Duration `env:"DELIVERY_BACKOFF_BASE" envDefault:"1m"`
	BackoffCap      time.Duration `env:"DELIVERY_BACKOFF_CAP" envDefault:"4h"`
	SendTimeout     time.Duration `env:"DELIVERY_SEND_TIMEOUT" envDefault:"2m"`
	SMTPHeloDomain  string        `env:"DELIVERY_SMTP_HELO_DOMAIN" envDefault:"localhost"`
	SMTPPort        int           `env:"DELIVERY_SMTP_PORT" envDefault:"25"`
	DisableDelivery bool          `env:"DELIVERY_DISABLED" envDefault:"false"`
}

type DkimConfig struct {
	DefaultSelector string `env:"DKIM_DEFAULT_SELECTOR" envDefault:"default"`
	KeySize         int    `env:"DKIM_KEY_SIZE" envDefault:"2048"`
	KeyLifetimeDays int    `env:"DKIM_KEY_LIFETIME_DAYS" envDefault:"180"`
}

type ReputationConfig struct {
	DecayHalfLife    time.Duration `env:"REPUTATION_DECAY_HALF_LIFE" envDefault:"168h"`
	SuccessDelta     float64       `env:"REPUTATION_SUCCESS_DELTA" envDefault:"1"`
	SoftFailureDelta float64       `env:"REPUTATION_SOFT_FAILURE_DELTA" envDefault:"3"`
	HardBounceDelta  float64       `env:"REPUTATION_HARD_BOUNCE_DELTA" envDefault:"10"`
}

type WebhookConfig struct {
	DispatcherCount int           `env:"WEBHOOK_DISPATCHER_COUNT" envDefault:"4"`
	PollInterval    time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"5s"`
	RetryInterval   time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"1m"`
	RetryBackoffCap time.Duration `env:"WEBHOOK_RETRY_BACKOFF_CAP" envDefault:"1h"`
	StuckJobAfter   time.Duration `env:"WEBHOOK_STUCK_JOB_AFTER" envDefault:"10m"`
}
