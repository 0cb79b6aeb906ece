package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	SiteURL   string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Registrations RegistrationsConfig
	Uploads       UploadsConfig
	Zapier        ZapierConfig
	Notifications NotificationsConfig
	RateLimit     RateLimitConfig
	SMTP          SMTPConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RegistrationsConfig governs intake behaviour and the class allow-list.
type RegistrationsConfig struct {
	ClassOptions    []string
	LockTimeout     time.Duration
	AutoEnroll      bool
	ExportBatchSize int
}

// UploadsConfig controls document storage and validation.
type UploadsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	AllowedMIMEs      []string
}

// ZapierConfig holds the outbound webhook relay settings.
type ZapierConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// NotificationsConfig toggles intake email side effects.
type NotificationsConfig struct {
	AdminEnabled   bool
	StudentEnabled bool
	AdminEmail     string
	FromAddress    string
}

// RateLimitConfig bounds public intake submissions per client IP.
type RateLimitConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Salt        string
}

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.SiteURL = v.GetString("SITE_URL")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	classOptions := splitAndTrim(v.GetString("CLASS_OPTIONS"))
	if len(classOptions) == 0 {
		classOptions = defaultClassOptions()
	}
	cfg.Registrations = RegistrationsConfig{
		ClassOptions:    classOptions,
		LockTimeout:     parseDuration(v.GetString("REGISTRATION_LOCK_TIMEOUT"), 5*time.Second),
		AutoEnroll:      v.GetBool("REGISTRATION_AUTO_ENROLL"),
		ExportBatchSize: v.GetInt("REGISTRATION_EXPORT_BATCH_SIZE"),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:        v.GetString("UPLOADS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("UPLOADS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("UPLOADS_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes:  maxUploadSize,
		AllowedExtensions: splitAndTrim(v.GetString("UPLOADS_ALLOWED_EXTENSIONS")),
		AllowedMIMEs:      splitAndTrim(v.GetString("UPLOADS_ALLOWED_MIME_TYPES")),
	}

	cfg.Zapier = ZapierConfig{
		Enabled:    v.GetBool("ZAPIER_ENABLED"),
		WebhookURL: v.GetString("ZAPIER_WEBHOOK_URL"),
		Timeout:    parseDuration(v.GetString("ZAPIER_TIMEOUT"), 30*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		AdminEnabled:   v.GetBool("NOTIFY_ADMIN"),
		StudentEnabled: v.GetBool("NOTIFY_STUDENT"),
		AdminEmail:     v.GetString("ADMIN_EMAIL"),
		FromAddress:    v.GetString("MAIL_FROM"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:     v.GetBool("RATE_LIMIT_ENABLED"),
		MaxAttempts: v.GetInt("RATE_LIMIT_MAX_ATTEMPTS"),
		Window:      parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
		Salt:        v.GetString("RATE_LIMIT_SALT"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("SITE_URL", "https://sst.nyc")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sst_registrations")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "registration-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CLASS_OPTIONS", "")
	v.SetDefault("REGISTRATION_LOCK_TIMEOUT", "5s")
	v.SetDefault("REGISTRATION_AUTO_ENROLL", true)
	v.SetDefault("REGISTRATION_EXPORT_BATCH_SIZE", 500)

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads/registrations")
	v.SetDefault("UPLOADS_SIGNED_URL_SECRET", "dev_uploads_secret")
	v.SetDefault("UPLOADS_SIGNED_URL_TTL", "30m")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_EXTENSIONS", "jpg,jpeg,png,pdf")
	v.SetDefault("UPLOADS_ALLOWED_MIME_TYPES", "image/jpeg,image/png,application/pdf")

	v.SetDefault("ZAPIER_ENABLED", false)
	v.SetDefault("ZAPIER_WEBHOOK_URL", "")
	v.SetDefault("ZAPIER_TIMEOUT", "30s")

	v.SetDefault("NOTIFY_ADMIN", true)
	v.SetDefault("NOTIFY_STUDENT", true)
	v.SetDefault("ADMIN_EMAIL", "info@sst.nyc")
	v.SetDefault("MAIL_FROM", "no-reply@sst.nyc")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_MAX_ATTEMPTS", 3)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_SALT", "dev_rate_limit_salt")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 25)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
}

func defaultClassOptions() []string {
	return []string{
		"10 Hr SST",
		"16 Hr SST - 62 Hour Renewal Supervisor SST",
		"22 Hr SST - 62 Hour Upgrade Worker to Supervisor",
		"32 Hr SST",
		"32 Hr SST + OSHA 30",
		"OSHA 10",
		"OSHA 30",
		"8 Hr SST Refresher",
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
