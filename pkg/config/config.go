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

// Registry backends selectable via REGISTRY_BACKEND.
const (
	RegistryBackendMemory   = "memory"
	RegistryBackendPostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Registry RegistryConfig
	Routing  RoutingConfig
	Snapshot SnapshotCacheConfig
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

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RegistryConfig selects the backing store for version records.
type RegistryConfig struct {
	Backend string
}

// RoutingConfig tunes connection caching and traffic shifting.
type RoutingConfig struct {
	ConnectTimeout     time.Duration
	MaxConnectAttempts int
	IdleTTL            time.Duration
	SweepInterval      time.Duration
	ShiftStepSize      int
	ShiftStepInterval  time.Duration
}

// SnapshotCacheConfig governs the Redis-backed distribution snapshot cache.
type SnapshotCacheConfig struct {
	Enabled bool
	TTL     time.Duration
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

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Registry = RegistryConfig{
		Backend: strings.ToLower(v.GetString("REGISTRY_BACKEND")),
	}

	cfg.Routing = RoutingConfig{
		ConnectTimeout:     parseDuration(v.GetString("ROUTING_CONNECT_TIMEOUT"), 5*time.Second),
		MaxConnectAttempts: v.GetInt("ROUTING_MAX_CONNECT_ATTEMPTS"),
		IdleTTL:            parseDuration(v.GetString("ROUTING_CONNECTION_IDLE_TTL"), 10*time.Minute),
		SweepInterval:      parseDuration(v.GetString("ROUTING_SWEEP_INTERVAL"), time.Minute),
		ShiftStepSize:      v.GetInt("ROUTING_SHIFT_STEP_SIZE"),
		ShiftStepInterval:  parseDuration(v.GetString("ROUTING_SHIFT_STEP_INTERVAL"), time.Minute),
	}

	cfg.Snapshot = SnapshotCacheConfig{
		Enabled: v.GetBool("ENABLE_SNAPSHOT_CACHE"),
		TTL:     parseDuration(v.GetString("SNAPSHOT_CACHE_TTL"), 30*time.Second),
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
	v.SetDefault("DB_NAME", "traffic_router")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REGISTRY_BACKEND", RegistryBackendMemory)

	v.SetDefault("ROUTING_CONNECT_TIMEOUT", "5s")
	v.SetDefault("ROUTING_MAX_CONNECT_ATTEMPTS", 3)
	v.SetDefault("ROUTING_CONNECTION_IDLE_TTL", "10m")
	v.SetDefault("ROUTING_SWEEP_INTERVAL", "60s")
	v.SetDefault("ROUTING_SHIFT_STEP_SIZE", 10)
	v.SetDefault("ROUTING_SHIFT_STEP_INTERVAL", "60s")

	v.SetDefault("ENABLE_SNAPSHOT_CACHE", false)
	v.SetDefault("SNAPSHOT_CACHE_TTL", "30s")
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
