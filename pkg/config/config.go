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

	Database        DatabaseConfig
	Redis           RedisConfig
	JWT             JWTConfig
	CORS            CORSConfig
	Log             LogConfig
	Loans           LoansConfig
	Recommendations RecommendationsConfig
	AI              AIConfig
	SMTP            SMTPConfig
	Overdue         OverdueConfig
	Dashboard       DashboardConfig
	Notifications   NotificationsConfig
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
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoansConfig is the single source of truth for lending policy.
type LoansConfig struct {
	PeriodDays     int
	FineRatePerDay string
}

// RecommendationsConfig tunes the recommendation engine and its cache.
type RecommendationsConfig struct {
	CacheTTL     time.Duration
	DefaultLimit int
}

// AIConfig governs the optional LLM-assisted recommender.
type AIConfig struct {
	Enabled       bool
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxRetries    int
	BackoffBase   time.Duration
}

// SMTPConfig configures outbound mail delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// OverdueConfig controls the overdue reminder scheduler.
type OverdueConfig struct {
	Enabled      bool
	ScanInterval time.Duration
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// NotificationsConfig tunes the notification worker queue.
type NotificationsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
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
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Loans = LoansConfig{
		PeriodDays:     v.GetInt("LOAN_PERIOD_DAYS"),
		FineRatePerDay: v.GetString("FINE_RATE_PER_DAY"),
	}

	cfg.Recommendations = RecommendationsConfig{
		CacheTTL:     parseDuration(v.GetString("RECOMMENDATIONS_CACHE_TTL"), time.Hour),
		DefaultLimit: v.GetInt("RECOMMENDATIONS_DEFAULT_LIMIT"),
	}

	cfg.AI = AIConfig{
		Enabled:       v.GetBool("ENABLE_AI_RECOMMENDER"),
		BaseURL:       v.GetString("AI_BASE_URL"),
		APIKey:        v.GetString("AI_API_KEY"),
		Model:         v.GetString("AI_MODEL"),
		FallbackModel: v.GetString("AI_FALLBACK_MODEL"),
		MaxRetries:    v.GetInt("AI_MAX_RETRIES"),
		BackoffBase:   parseDuration(v.GetString("AI_BACKOFF_BASE"), 2*time.Second),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Overdue = OverdueConfig{
		Enabled:      v.GetBool("ENABLE_OVERDUE_REMINDERS"),
		ScanInterval: parseDuration(v.GetString("OVERDUE_SCAN_INTERVAL"), 24*time.Hour),
	}

	cfg.Dashboard = DashboardConfig{
		Enabled:  v.GetBool("ENABLE_DASHBOARD"),
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), 5*time.Second),
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
	v.SetDefault("DB_NAME", "library_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LOAN_PERIOD_DAYS", 14)
	v.SetDefault("FINE_RATE_PER_DAY", "2.00")

	v.SetDefault("RECOMMENDATIONS_CACHE_TTL", "1h")
	v.SetDefault("RECOMMENDATIONS_DEFAULT_LIMIT", 10)

	v.SetDefault("ENABLE_AI_RECOMMENDER", false)
	v.SetDefault("AI_BASE_URL", "")
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_FALLBACK_MODEL", "gpt-3.5-turbo")
	v.SetDefault("AI_MAX_RETRIES", 3)
	v.SetDefault("AI_BACKOFF_BASE", "2s")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "library@campuskit.example")

	v.SetDefault("ENABLE_OVERDUE_REMINDERS", false)
	v.SetDefault("OVERDUE_SCAN_INTERVAL", "24h")

	v.SetDefault("ENABLE_DASHBOARD", true)
	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "5s")
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
