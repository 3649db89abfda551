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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Tours    ToursConfig
	Calendar CalendarConfig
	Live     LiveConfig
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

// ToursConfig tunes the scheduling engine defaults.
type ToursConfig struct {
	DefaultSlotDuration time.Duration
	DefaultBufferTime   time.Duration
	SuggestionCount     int
	AvailabilityTTL     time.Duration
}

// CalendarConfig governs the external calendar bridge.
type CalendarConfig struct {
	Enabled        bool
	BaseURL        string
	TokenURL       string
	RequestTimeout time.Duration
	SyncWorkers    int
	SyncRetries    int
	SyncRetryDelay time.Duration
}

// LiveConfig tunes the server-sent event channels.
type LiveConfig struct {
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	SubscriberBuffer  int
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

	cfg.Tours = ToursConfig{
		DefaultSlotDuration: parseDuration(v.GetString("TOURS_SLOT_DURATION"), 60*time.Minute),
		DefaultBufferTime:   parseDuration(v.GetString("TOURS_BUFFER_TIME"), 15*time.Minute),
		SuggestionCount:     v.GetInt("TOURS_SUGGESTION_COUNT"),
		AvailabilityTTL:     parseDuration(v.GetString("TOURS_AVAILABILITY_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Calendar = CalendarConfig{
		Enabled:        v.GetBool("CALENDAR_SYNC_ENABLED"),
		BaseURL:        v.GetString("CALENDAR_API_BASE_URL"),
		TokenURL:       v.GetString("CALENDAR_TOKEN_URL"),
		RequestTimeout: parseDuration(v.GetString("CALENDAR_REQUEST_TIMEOUT"), 3*time.Second),
		SyncWorkers:    v.GetInt("CALENDAR_SYNC_WORKERS"),
		SyncRetries:    v.GetInt("CALENDAR_SYNC_RETRIES"),
		SyncRetryDelay: parseDuration(v.GetString("CALENDAR_SYNC_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Live = LiveConfig{
		HeartbeatInterval: parseDuration(v.GetString("LIVE_HEARTBEAT_INTERVAL"), 30*time.Second),
		ReconnectDelay:    parseDuration(v.GetString("LIVE_RECONNECT_DELAY"), 5*time.Second),
		SubscriberBuffer:  v.GetInt("LIVE_SUBSCRIBER_BUFFER"),
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
	v.SetDefault("DB_NAME", "hearthview_tours")
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

	v.SetDefault("TOURS_SLOT_DURATION", "1h")
	v.SetDefault("TOURS_BUFFER_TIME", "15m")
	v.SetDefault("TOURS_SUGGESTION_COUNT", 3)
	v.SetDefault("TOURS_AVAILABILITY_CACHE_TTL", "2m")

	v.SetDefault("CALENDAR_SYNC_ENABLED", false)
	v.SetDefault("CALENDAR_API_BASE_URL", "")
	v.SetDefault("CALENDAR_TOKEN_URL", "")
	v.SetDefault("CALENDAR_REQUEST_TIMEOUT", "3s")
	v.SetDefault("CALENDAR_SYNC_WORKERS", 1)
	v.SetDefault("CALENDAR_SYNC_RETRIES", 2)
	v.SetDefault("CALENDAR_SYNC_RETRY_DELAY", "5s")

	v.SetDefault("LIVE_HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("LIVE_RECONNECT_DELAY", "5s")
	v.SetDefault("LIVE_SUBSCRIBER_BUFFER", 16)
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
