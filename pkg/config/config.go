package config

import (
	"errors"
	"fmt"
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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Studio   StudioConfig
	Backlog  BacklogConfig
	Reports  ReportsConfig
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

// JWTConfig validates portal access tokens; issuance lives in the identity service.
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

// StudioConfig carries the scheduling rules of the studio.
type StudioConfig struct {
	Timezone             string
	Location             *time.Location
	PlatformStartDate    time.Time
	MinNoticeMinutes     int
	RescheduleWindowDays int
	CreditValidity       time.Duration
	MatchThreshold       float64
	OperatingHoursStart  string
	OperatingHoursEnd    string
}

// BacklogConfig toggles caching of the pending occurrence backlog.
type BacklogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ReportsConfig configures asynchronous export generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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

	studio, err := loadStudio(v)
	if err != nil {
		return nil, err
	}
	cfg.Studio = studio

	cfg.Backlog = BacklogConfig{
		CacheEnabled: v.GetBool("ENABLE_BACKLOG_CACHE"),
		CacheTTL:     parseDuration(v.GetString("BACKLOG_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	return cfg, nil
}

func loadStudio(v *viper.Viper) (StudioConfig, error) {
	tz := v.GetString("STUDIO_TIMEZONE")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return StudioConfig{}, fmt.Errorf("load studio timezone %q: %w", tz, err)
	}

	var start time.Time
	if raw := strings.TrimSpace(v.GetString("PLATFORM_START_DATE")); raw != "" {
		start, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return StudioConfig{}, fmt.Errorf("parse PLATFORM_START_DATE: %w", err)
		}
	}

	cfg := StudioConfig{
		Timezone:             tz,
		Location:             loc,
		PlatformStartDate:    start,
		MinNoticeMinutes:     v.GetInt("MIN_NOTICE_MINUTES"),
		RescheduleWindowDays: v.GetInt("RESCHEDULE_WINDOW_DAYS"),
		CreditValidity:       parseDuration(v.GetString("CREDIT_VALIDITY"), 30*24*time.Hour),
		MatchThreshold:       v.GetFloat64("MATCH_THRESHOLD"),
		OperatingHoursStart:  v.GetString("OPERATING_HOURS_START"),
		OperatingHoursEnd:    v.GetString("OPERATING_HOURS_END"),
	}
	if cfg.MinNoticeMinutes < 0 {
		return StudioConfig{}, fmt.Errorf("MIN_NOTICE_MINUTES must not be negative")
	}
	if cfg.RescheduleWindowDays <= 0 {
		cfg.RescheduleWindowDays = 7
	}
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		cfg.MatchThreshold = 0.8
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
	v.SetDefault("DB_NAME", "studio_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STUDIO_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("PLATFORM_START_DATE", "")
	v.SetDefault("MIN_NOTICE_MINUTES", 15)
	v.SetDefault("RESCHEDULE_WINDOW_DAYS", 7)
	v.SetDefault("CREDIT_VALIDITY", "720h")
	v.SetDefault("MATCH_THRESHOLD", 0.8)
	v.SetDefault("OPERATING_HOURS_START", "06:00")
	v.SetDefault("OPERATING_HOURS_END", "22:00")

	v.SetDefault("ENABLE_BACKLOG_CACHE", false)
	v.SetDefault("BACKLOG_CACHE_TTL", "5m")

	v.SetDefault("ENABLE_REPORTS", false)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
