package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DispatchModeInline = "inline"
	DispatchModeQueue  = "queue"

	MailProviderSimulated = "simulated"
	MailProviderHTTP      = "http"
	MailProviderSMTP      = "smtp"
	MailProviderSES       = "ses"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`

	DispatchMode        string        `env:"DISPATCH_MODE,default=inline"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY,default=8"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL,default=1m"`
	StaleClaimTimeout   time.Duration `env:"STALE_CLAIM_TIMEOUT,default=0s"`
	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY,default=4"`

	MailProvider       string        `env:"MAIL_PROVIDER,default=simulated"`
	MailHTTPEndpoint   string        `env:"MAIL_HTTP_ENDPOINT"`
	MailAPIKey         string        `env:"MAIL_API_KEY"`
	SMTPHost           string        `env:"SMTP_HOST"`
	SMTPPort           int           `env:"SMTP_PORT,default=587"`
	SMTPUsername       string        `env:"SMTP_USERNAME"`
	SMTPPassword       string        `env:"SMTP_PASSWORD"`
	SESRegion          string        `env:"SES_REGION,default=us-east-1"`
	SESAccessKeyID     string        `env:"SES_ACCESS_KEY_ID"`
	SESSecretAccessKey string        `env:"SES_SECRET_ACCESS_KEY"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT,default=15s"`
	SendRatePerSec     int           `env:"SEND_RATE_PER_SEC,default=10"`

	QuotaResetTimezone string `env:"QUOTA_RESET_TIMEZONE,default=UTC"`

	HealthInterval       time.Duration `env:"HEALTH_INTERVAL,default=1h"`
	HealthWindowDays     int           `env:"HEALTH_WINDOW_DAYS,default=30"`
	HealthWeightDelivery float64       `env:"HEALTH_WEIGHT_DELIVERY,default=0.6"`
	HealthWeightOpen     float64       `env:"HEALTH_WEIGHT_OPEN,default=0.4"`
	HealthWeightBounce   float64       `env:"HEALTH_WEIGHT_BOUNCE,default=1.0"`
	SenderMinHealthScore float64       `env:"SENDER_MIN_HEALTH_SCORE,default=0"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
// Variables already present in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.DispatchMode = strings.ToLower(strings.TrimSpace(cfg.DispatchMode))
	cfg.MailProvider = strings.ToLower(strings.TrimSpace(cfg.MailProvider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DispatchMode {
	case DispatchModeInline:
	case DispatchModeQueue:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when DISPATCH_MODE=queue")
		}
	default:
		return fmt.Errorf("unsupported DISPATCH_MODE %q", c.DispatchMode)
	}

	switch c.MailProvider {
	case MailProviderSimulated:
	case MailProviderHTTP:
		if strings.TrimSpace(c.MailHTTPEndpoint) == "" {
			return fmt.Errorf("MAIL_HTTP_ENDPOINT is required when MAIL_PROVIDER=http")
		}
	case MailProviderSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_PROVIDER=smtp")
		}
	case MailProviderSES:
		if c.SESAccessKeyID == "" || c.SESSecretAccessKey == "" {
			return fmt.Errorf("SES_ACCESS_KEY_ID and SES_SECRET_ACCESS_KEY are required when MAIL_PROVIDER=ses")
		}
	default:
		return fmt.Errorf("unsupported MAIL_PROVIDER %q", c.MailProvider)
	}

	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.HealthWindowDays <= 0 {
		return fmt.Errorf("HEALTH_WINDOW_DAYS must be positive")
	}
	if _, err := time.LoadLocation(c.QuotaResetTimezone); err != nil {
		return fmt.Errorf("invalid QUOTA_RESET_TIMEZONE: %w", err)
	}

	return nil
}

// QuotaResetLocation returns the time zone whose midnight resets warm-up counters.
func (c *Config) QuotaResetLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaResetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Simulated reports whether sends are simulated instead of delivered.
func (c *Config) Simulated() bool {
	return c.MailProvider == MailProviderSimulated
}
