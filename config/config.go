package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Store configuration.
	StoreDriver  string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL  string        `mapstructure:"DATABASE_URL"`
	DatabaseName string        `mapstructure:"DATABASE_NAME"`
	SQLitePath   string        `mapstructure:"SQLITE_PATH"`
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`

	// Redis configuration.
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisLockDB     int    `mapstructure:"REDIS_LOCK_DB"`
	RedisOTPDB      int    `mapstructure:"REDIS_OTP_DB"`
	RedisQueueDB    int    `mapstructure:"REDIS_QUEUE_DB"`
	FastPathEnabled bool   `mapstructure:"FASTPATH_ENABLED"`

	// Tenant credentials.
	TenantJWTSecret string `mapstructure:"TENANT_JWT_SECRET"`

	// Reservation policy.
	HoldTTL            time.Duration `mapstructure:"HOLD_TTL"`
	ReaperInterval     time.Duration `mapstructure:"REAPER_INTERVAL"`
	ReaperBatch        int           `mapstructure:"REAPER_BATCH"`
	InfraRetryAttempts int           `mapstructure:"INFRA_RETRY_ATTEMPTS"`
	InfraRetryBackoff  time.Duration `mapstructure:"INFRA_RETRY_BACKOFF"`
	AlternativeSlots   int           `mapstructure:"ALTERNATIVE_SLOTS"`

	// Confirmation policy.
	ConfirmMaxAttempts int           `mapstructure:"CONFIRM_MAX_ATTEMPTS"`
	ConfirmCodeTTL     time.Duration `mapstructure:"CONFIRM_CODE_TTL"`
	VerifyTimeout      time.Duration `mapstructure:"VERIFY_TIMEOUT"`

	// Idempotent events.
	EventRetention    time.Duration `mapstructure:"EVENT_RETENTION"`
	EventWaitTimeout  time.Duration `mapstructure:"EVENT_WAIT_TIMEOUT"`
	EventPruneEvery   time.Duration `mapstructure:"EVENT_PRUNE_INTERVAL"`
	LocalScheduler    bool          `mapstructure:"LOCAL_SCHEDULER"`
	WorkerConcurrency int           `mapstructure:"WORKER_CONCURRENCY"`

	// Delivery channels for confirmation codes.
	TwilioAccountSID  string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `mapstructure:"TWILIO_FROM_NUMBER"`
	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `mapstructure:"SENDGRID_FROM_NAME"`
}

var AppConfig Config

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 600)
	v.SetDefault("STORE_DRIVER", "mongo")
	v.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	v.SetDefault("DATABASE_NAME", "slotkeeper")
	v.SetDefault("SQLITE_PATH", "slotkeeper.db")
	v.SetDefault("STORE_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_LOCK_DB", 0)
	v.SetDefault("REDIS_OTP_DB", 1)
	v.SetDefault("REDIS_QUEUE_DB", 2)
	v.SetDefault("FASTPATH_ENABLED", true)
	v.SetDefault("TENANT_JWT_SECRET", "")
	v.SetDefault("HOLD_TTL", 7*time.Minute)
	v.SetDefault("REAPER_INTERVAL", 15*time.Second)
	v.SetDefault("REAPER_BATCH", 100)
	v.SetDefault("INFRA_RETRY_ATTEMPTS", 3)
	v.SetDefault("INFRA_RETRY_BACKOFF", 100*time.Millisecond)
	v.SetDefault("ALTERNATIVE_SLOTS", 3)
	v.SetDefault("CONFIRM_MAX_ATTEMPTS", 3)
	v.SetDefault("CONFIRM_CODE_TTL", 5*time.Minute)
	v.SetDefault("VERIFY_TIMEOUT", 3*time.Second)
	v.SetDefault("EVENT_RETENTION", 72*time.Hour)
	v.SetDefault("EVENT_WAIT_TIMEOUT", 5*time.Second)
	v.SetDefault("EVENT_PRUNE_INTERVAL", time.Hour)
	v.SetDefault("LOCAL_SCHEDULER", false)
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM_NUMBER", "")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("SENDGRID_FROM_EMAIL", "")
	v.SetDefault("SENDGRID_FROM_NAME", "Appointments")
}

// LoadConfig reads .env, config.yaml and the environment into AppConfig.
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, continuing")
	}

	v := viper.GetViper()
	// Look for a config file named "config.yaml" in the current and "config" directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	// Automatically use environment variables where available.
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

// Validate fails closed on settings the booking core cannot run without.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "mongo", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.TenantJWTSecret == "" {
		return fmt.Errorf("TENANT_JWT_SECRET must be set")
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.ReaperInterval <= 0 || c.ReaperInterval > c.HoldTTL {
		return fmt.Errorf("REAPER_INTERVAL must be positive and shorter than HOLD_TTL")
	}
	if c.EventWaitTimeout <= 0 {
		return fmt.Errorf("EVENT_WAIT_TIMEOUT must be positive")
	}
	if c.EventRetention <= 0 || c.EventPruneEvery <= 0 {
		return fmt.Errorf("EVENT_RETENTION and EVENT_PRUNE_INTERVAL must be positive")
	}
	return nil
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
