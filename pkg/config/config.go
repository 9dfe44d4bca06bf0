// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config holds all runtime settings.
type Config struct {
	// Store
	StoreBackend string
	DataDir      string
	MaxMemoryMB  int64
	MaxStorageGB int64
	MongoURI     string
	MongoDB      string

	// HTTP
	Port string

	// Sampler
	SamplingInterval   time.Duration
	RetentionDays      int
	StatusQueryTimeout time.Duration

	// Rollups
	RollupEnabled  bool
	RollupBucket   time.Duration
	RollupTTL      time.Duration
	RollupInterval time.Duration

	// Alerts
	AlertInterval time.Duration
	AlertCooldown time.Duration

	// Notifiers (empty = disabled)
	NatsURL      string
	NatsSubject  string
	RedisAddr    string
	RedisChannel string

	ShutdownTimeout time.Duration
}

// Retention returns the raw sample retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads an optional .env file, then the environment, then normalizes
// out-of-range values. Only structural problems are returned as errors.
func Load(log *slog.Logger) (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Info("loaded config file", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		log.Debug("no .env file found, using environment variables")
	}

	cfg := &Config{
		StoreBackend: strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendBadger)),
		DataDir:      getEnvOrDefault("DATA_DIR", DefaultDataDir),
		MaxMemoryMB:  getEnvInt64(log, "BADGER_MAX_MEMORY_MB", DefaultMaxMemoryMB),
		MaxStorageGB: getEnvInt64(log, "MAX_STORAGE_GB", DefaultMaxStorageGB),
		MongoURI:     os.Getenv("BACKEND_MONGO_URI"),
		MongoDB:      getEnvOrDefault("MONGO_DATABASE", DefaultMongoDB),

		Port: getEnvOrDefault("PORT", DefaultPort),

		SamplingInterval:   getEnvSeconds(log, "METRICS_SAMPLING_INTERVAL_SEC", 5),
		RetentionDays:      int(getEnvInt64(log, "METRICS_RETENTION_DAYS", 7)),
		StatusQueryTimeout: getEnvSeconds(log, "STATUS_QUERY_TIMEOUT_SEC", int64(DefaultStatusTimeout/time.Second)),

		RollupEnabled:  getEnvBool(log, "METRICS_ROLLUP_ENABLED", false),
		RollupBucket:   getEnvSeconds(log, "METRICS_ROLLUP_BUCKET_SECONDS", 300),
		RollupTTL:      getEnvSeconds(log, "METRICS_ROLLUP_TTL_SECONDS", 30*24*3600),
		RollupInterval: getEnvSeconds(log, "METRICS_ROLLUP_COMPACTION_INTERVAL_SEC", 60),

		AlertInterval: getEnvSeconds(log, "ALERT_EVAL_INTERVAL_SEC", 5),
		AlertCooldown: getEnvSeconds(log, "ALERT_EVENT_COOLDOWN_SEC", 60),

		NatsURL:      os.Getenv("NATS_URL"),
		NatsSubject:  getEnvOrDefault("NATS_SUBJECT", "dbpulse.alerts"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: getEnvOrDefault("REDIS_CHANNEL", "dbpulse:alerts"),

		ShutdownTimeout: getEnvSeconds(log, "SHUTDOWN_TIMEOUT_SEC", int64(DefaultShutdownGrace/time.Second)),
	}

	cfg.Normalize(log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize raises values below their safe minimum and logs every change.
func (c *Config) Normalize(log *slog.Logger) {
	clamp := func(name string, v *time.Duration, floor time.Duration) {
		if *v < floor {
			log.Warn("config value below minimum, clamping", "key", name, "value", v.String(), "min", floor.String())
			*v = floor
		}
	}

	clamp("METRICS_SAMPLING_INTERVAL_SEC", &c.SamplingInterval, MinSamplingInterval)
	clamp("METRICS_ROLLUP_COMPACTION_INTERVAL_SEC", &c.RollupInterval, MinRollupInterval)
	clamp("ALERT_EVAL_INTERVAL_SEC", &c.AlertInterval, MinAlertInterval)
	clamp("METRICS_ROLLUP_BUCKET_SECONDS", &c.RollupBucket, time.Second)
	clamp("STATUS_QUERY_TIMEOUT_SEC", &c.StatusQueryTimeout, time.Second)
	clamp("SHUTDOWN_TIMEOUT_SEC", &c.ShutdownTimeout, time.Second)
	clamp("ALERT_EVENT_COOLDOWN_SEC", &c.AlertCooldown, 0)
	clamp("METRICS_ROLLUP_TTL_SECONDS", &c.RollupTTL, 0)

	if c.RetentionDays < 1 {
		log.Warn("config value below minimum, clamping", "key", "METRICS_RETENTION_DAYS", "value", c.RetentionDays, "min", 1)
		c.RetentionDays = 1
	}
}

// Validate checks settings that cannot be normalized.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendBadger, BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("BACKEND_MONGO_URI is required when STORE_BACKEND=%s", BackendMongo)
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (want badger, mongo or memory)", c.StoreBackend)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	return nil
}

// SanitizeURI masks the password in a connection URI so it can be logged.
// Strings that do not parse as URLs are reduced to their scheme.
func SanitizeURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if i := strings.Index(raw, "://"); i > 0 {
			return raw[:i] + "://***"
		}
		if i := strings.LastIndex(raw, "@"); i >= 0 {
			return "***" + raw[i:]
		}
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// getEnvOrDefault returns the variable or defaultValue when unset.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(log *slog.Logger, key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Warn("invalid integer, using default", "key", key, "value", val, "default", defaultValue)
	}
	return defaultValue
}

func getEnvSeconds(log *slog.Logger, key string, defaultSeconds int64) time.Duration {
	return time.Duration(getEnvInt64(log, key, defaultSeconds)) * time.Second
}

func getEnvBool(log *slog.Logger, key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
		log.Warn("invalid boolean, using default", "key", key, "value", val, "default", defaultValue)
	}
	return defaultValue
}
