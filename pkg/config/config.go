package config

import (
	"errors"
	"io/fs"
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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Escalation    EscalationConfig
	Hierarchy     HierarchyConfig
	Notifications NotificationConfig
	SMTP          SMTPConfig
	Dashboard     DashboardConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EscalationConfig drives request deadlines and the periodic escalation sweep.
type EscalationConfig struct {
	Enabled          bool
	Interval         time.Duration
	NormalDeadline   time.Duration
	UrgentMinMinutes int
	UrgentMaxMinutes int
	WarningWindow    time.Duration
	RetryGrace       time.Duration
	BatchSize        int
	LockTTL          time.Duration
}

// HierarchyConfig shapes the role chain built at start-up.
type HierarchyConfig struct {
	IncludeDean bool
}

// NotificationConfig sizes the notification worker pool and its channels.
type NotificationConfig struct {
	Workers       int
	BufferSize    int
	MaxRetries    int
	RetryDelay    time.Duration
	StreamEnabled bool
	StreamName    string
}

// SMTPConfig configures the e-mail channel. An empty host disables it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// DashboardConfig governs dashboard exposure and cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	normalHours := v.GetInt("NORMAL_ESCALATION_HOURS")
	if normalHours <= 0 {
		normalHours = 24
	}
	minMinutes := v.GetInt("URGENT_MIN_MINUTES")
	if minMinutes <= 0 {
		minMinutes = 10
	}
	maxMinutes := v.GetInt("URGENT_MAX_MINUTES")
	if maxMinutes < minMinutes {
		maxMinutes = minMinutes
	}
	cfg.Escalation = EscalationConfig{
		Enabled:          v.GetBool("ENABLE_ESCALATIONS"),
		Interval:         parseDuration(v.GetString("ESCALATION_INTERVAL"), time.Minute),
		NormalDeadline:   time.Duration(normalHours) * time.Hour,
		UrgentMinMinutes: minMinutes,
		UrgentMaxMinutes: maxMinutes,
		WarningWindow:    parseDuration(v.GetString("URGENT_WARNING_WINDOW"), 10*time.Minute),
		RetryGrace:       parseDuration(v.GetString("ESCALATION_RETRY_GRACE"), 30*time.Minute),
		BatchSize:        v.GetInt("ESCALATION_BATCH_SIZE"),
		LockTTL:          parseDuration(v.GetString("ESCALATION_LOCK_TTL"), 55*time.Second),
	}

	cfg.Hierarchy = HierarchyConfig{
		IncludeDean: v.GetBool("HIERARCHY_INCLUDE_DEAN"),
	}

	cfg.Notifications = NotificationConfig{
		Workers:       v.GetInt("NOTIFY_WORKERS"),
		BufferSize:    v.GetInt("NOTIFY_BUFFER"),
		MaxRetries:    v.GetInt("NOTIFY_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
		StreamEnabled: v.GetBool("NOTIFY_STREAM_ENABLED"),
		StreamName:    v.GetString("NOTIFY_STREAM_NAME"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campusiq")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "campusiq")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("NORMAL_ESCALATION_HOURS", 24)
	v.SetDefault("URGENT_MIN_MINUTES", 10)
	v.SetDefault("URGENT_MAX_MINUTES", 360)
	v.SetDefault("URGENT_WARNING_WINDOW", "10m")
	v.SetDefault("ESCALATION_RETRY_GRACE", "30m")
	v.SetDefault("ENABLE_ESCALATIONS", true)
	v.SetDefault("ESCALATION_INTERVAL", "1m")
	v.SetDefault("ESCALATION_BATCH_SIZE", 200)
	v.SetDefault("ESCALATION_LOCK_TTL", "55s")

	v.SetDefault("HIERARCHY_INCLUDE_DEAN", true)

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER", 256)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFY_STREAM_ENABLED", false)
	v.SetDefault("NOTIFY_STREAM_NAME", "permission-events")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@campusiq.local")

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "2m")
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
