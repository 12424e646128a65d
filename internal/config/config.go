package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/medportal/portal/internal/platform/cron"
	"github.com/medportal/portal/internal/platform/db"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DBTxIsolation string   `mapstructure:"DB_TX_ISOLATION"`
	JWTSecret     string   `mapstructure:"JWT_SECRET"`
	JWTIssuer     string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit     string   `mapstructure:"BODY_LIMIT"`
	UploadLimit   string   `mapstructure:"UPLOAD_LIMIT"`

	ClinicTimezone       string        `mapstructure:"CLINIC_TIMEZONE"`
	ReminderEnabled      bool          `mapstructure:"REMINDER_ENABLED"`
	ReminderSchedule     string        `mapstructure:"REMINDER_SCHEDULE"`
	ReminderDedupeWindow time.Duration `mapstructure:"REMINDER_DEDUPE_WINDOW"`
	StatusUpdatePolicy   string        `mapstructure:"STATUS_UPDATE_POLICY"`
	RedisURL             string        `mapstructure:"REDIS_URL"`

	Notifier            string `mapstructure:"NOTIFIER"`
	SMTPHost            string `mapstructure:"SMTP_HOST"`
	SMTPPort            int    `mapstructure:"SMTP_PORT"`
	SMTPUsername        string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword        string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom            string `mapstructure:"SMTP_FROM"`
	AMQPURL             string `mapstructure:"AMQP_URL"`
	AMQPExchange        string `mapstructure:"AMQP_EXCHANGE"`
	AMQPEmailRoutingKey string `mapstructure:"AMQP_EMAIL_ROUTING_KEY"`

	FileStoreDir        string        `mapstructure:"FILESTORE_DIR"`
	FileStoreSigningKey string        `mapstructure:"FILESTORE_SIGNING_KEY"`
	FileStoreURLTTL     time.Duration `mapstructure:"FILESTORE_URL_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_TX_ISOLATION",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS", "BODY_LIMIT", "UPLOAD_LIMIT",
	"CLINIC_TIMEZONE", "REMINDER_ENABLED", "REMINDER_SCHEDULE", "REMINDER_DEDUPE_WINDOW",
	"STATUS_UPDATE_POLICY", "REDIS_URL",
	"NOTIFIER", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"AMQP_URL", "AMQP_EXCHANGE", "AMQP_EMAIL_ROUTING_KEY",
	"FILESTORE_DIR", "FILESTORE_SIGNING_KEY", "FILESTORE_URL_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_TX_ISOLATION", "read committed")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "25M")
	v.SetDefault("CLINIC_TIMEZONE", "America/New_York")
	v.SetDefault("REMINDER_ENABLED", true)
	v.SetDefault("REMINDER_SCHEDULE", "0 9 * * *")
	v.SetDefault("REMINDER_DEDUPE_WINDOW", "24h")
	v.SetDefault("STATUS_UPDATE_POLICY", "authenticated")
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("AMQP_EXCHANGE", "notifications.direct")
	v.SetDefault("AMQP_EMAIL_ROUTING_KEY", "email.queue")
	v.SetDefault("FILESTORE_DIR", "./data/files")
	v.SetDefault("FILESTORE_URL_TTL", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.FileStoreSigningKey == "" {
		cfg.FileStoreSigningKey = cfg.JWTSecret
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: X-Dev-User-ID / X-Dev-Role headers are accepted as identity.")
		log.Println("WARNING: Set ENV=production and JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the clinic time zone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := db.ParseIsolation(c.DBTxIsolation); err != nil {
		return fmt.Errorf("DB_TX_ISOLATION: %w", err)
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	if _, err := cron.ParseSchedule(c.ReminderSchedule); err != nil {
		return fmt.Errorf("REMINDER_SCHEDULE: %w", err)
	}
	if c.ReminderDedupeWindow <= 0 {
		return fmt.Errorf("REMINDER_DEDUPE_WINDOW must be positive, got %s", c.ReminderDedupeWindow)
	}

	switch c.StatusUpdatePolicy {
	case "authenticated", "ownership":
	default:
		return fmt.Errorf("STATUS_UPDATE_POLICY must be \"authenticated\" or \"ownership\", got %q", c.StatusUpdatePolicy)
	}

	switch c.Notifier {
	case "log":
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when NOTIFIER is \"smtp\"")
		}
		if c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_FROM is required when NOTIFIER is \"smtp\"")
		}
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when NOTIFIER is \"amqp\"")
		}
	default:
		return fmt.Errorf("NOTIFIER must be \"log\", \"smtp\", or \"amqp\", got %q", c.Notifier)
	}

	if c.FileStoreSigningKey == "" && !c.IsDev() {
		return fmt.Errorf("FILESTORE_SIGNING_KEY or JWT_SECRET is required")
	}
	if c.FileStoreURLTTL <= 0 {
		return fmt.Errorf("FILESTORE_URL_TTL must be positive, got %s", c.FileStoreURLTTL)
	}
	return nil
}
