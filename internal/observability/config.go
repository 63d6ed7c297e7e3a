package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/observability/logger"
)

// Config holds logging, tracing and SQL logging settings. Service identity
// comes from config.Config; the rest from OTEL_*, LOG_* and DB_LOG_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// DBLogLevel is silent, error, warn or info.
	DBLogLevel       string
	DBSlowQuery      time.Duration
	DBSlowLockedRead time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	env := envReader(os.Getenv)

	out := Config{
		ServiceName: strings.TrimSpace(cfg.AppName),
		Environment: env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:     env.str("SERVICE_VERSION", cfg.AppVersion),

		LogLevel:  strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(env.str("LOG_FORMAT", "json")),

		DBLogLevel:       strings.ToLower(env.str("DB_LOG_LEVEL", "warn")),
		DBSlowQuery:      env.millis("DB_SLOW_QUERY_MS", 200*time.Millisecond),
		DBSlowLockedRead: env.millis("DB_SLOW_LOCK_MS", time.Second),

		OtelEnabled:          env.boolean("OTEL_ENABLED", false),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    env.ratio("OTEL_SAMPLING_RATIO", 0.1),
	}
	if out.ServiceName == "" {
		out.ServiceName = "billsync"
	}
	return out
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// GormLogger turns the DB_LOG_* settings into the SQL logger config.
// Debug mode raises the level to info so every statement is logged.
func (c Config) GormLogger() logger.GormLoggerConfig {
	level := c.DBLogLevel
	if c.Debug() && level == "warn" {
		level = "info"
	}
	return logger.GormLoggerConfig{
		Level:             logger.ParseGormLevel(level),
		SlowThreshold:     c.DBSlowQuery,
		SlowLockThreshold: c.DBSlowLockedRead,
	}
}

type envReader func(string) string

func (e envReader) str(key, def string) string {
	if value := strings.TrimSpace(e(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func (e envReader) boolean(key string, def bool) bool {
	parsed, err := strconv.ParseBool(e.str(key, ""))
	if err != nil {
		return def
	}
	return parsed
}

func (e envReader) millis(key string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(e.str(key, ""))
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// ratio accepts values in [0, 1].
func (e envReader) ratio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(e.str(key, ""), 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}
