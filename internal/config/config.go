package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	JWTIssuer          string
	JWTAudience        string
	JWTAccessSecret    string
	JWTChallengeSecret string
	JWTAccessTTL       time.Duration
	TOTPChallengeTTL   time.Duration

	RefreshTokenTTL    time.Duration
	RefreshTokenBytes  int
	RefreshTokenPepper string

	SessionMaxConcurrent   int
	SessionIdleTimeoutDays int

	TOTPMaxFailedAttempts   int
	TOTPFailedAttemptWindow time.Duration
	TOTPSkew                uint

	KafkaBrokers             []string
	KafkaSecurityAlertTopic  string
	AuthRateLimitPerMinute   int
	AuditWriteMaxAttempts    uint
	AuditWriteInitialBackoff time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	PrometheusMetricsEnabled  bool

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads the process environment, seeded from .env when present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg, err := FromLookup(os.LookupEnv)
	profile := os.Getenv("APP_ENV")
	if err != nil {
		recordConfigValidationEvent(context.Background(), profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), profile, "success", "none")
	return cfg, nil
}

// FromLookup builds a Config from any key lookup, which keeps tests off the
// process environment.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}
	cfg := &Config{
		AppEnv:   p.str("APP_ENV", "development"),
		HTTPAddr: p.str("HTTP_ADDR", ":8080"),
		LogLevel: p.str("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(p.str("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    p.str("DATABASE_URL", ""),
		RedisAddr:      p.str("REDIS_ADDR", ""),
		RedisPassword:  p.str("REDIS_PASSWORD", ""),
		RedisDB:        p.integer("REDIS_DB", 0),

		JWTIssuer:          p.str("JWT_ISSUER", "session-guard"),
		JWTAudience:        p.str("JWT_AUDIENCE", "session-guard-api"),
		JWTAccessSecret:    p.str("JWT_ACCESS_SECRET", ""),
		JWTChallengeSecret: p.str("JWT_CHALLENGE_SECRET", ""),
		JWTAccessTTL:       p.duration("JWT_ACCESS_TTL", 15*time.Minute),
		TOTPChallengeTTL:   p.duration("TOTP_CHALLENGE_TTL", 5*time.Minute),

		RefreshTokenTTL:    p.duration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RefreshTokenBytes:  p.integer("REFRESH_TOKEN_BYTES", 32),
		RefreshTokenPepper: p.str("REFRESH_TOKEN_PEPPER", ""),

		SessionMaxConcurrent:   p.integer("SESSION_MAX_CONCURRENT", 5),
		SessionIdleTimeoutDays: p.integer("SESSION_IDLE_TIMEOUT_DAYS", 14),

		TOTPMaxFailedAttempts:   p.integer("TOTP_MAX_FAILED_ATTEMPTS", 5),
		TOTPFailedAttemptWindow: p.duration("TOTP_FAILED_ATTEMPT_WINDOW", 15*time.Minute),
		TOTPSkew:                uint(p.integer("TOTP_SKEW", 1)),

		KafkaBrokers:             p.list("KAFKA_BROKERS"),
		KafkaSecurityAlertTopic:  p.str("KAFKA_SECURITY_ALERT_TOPIC", "security.alerts"),
		AuthRateLimitPerMinute:   p.integer("AUTH_RATE_LIMIT_RPM", 30),
		AuditWriteMaxAttempts:    uint(p.integer("AUDIT_WRITE_MAX_ATTEMPTS", 3)),
		AuditWriteInitialBackoff: p.duration("AUDIT_WRITE_INITIAL_BACKOFF", 50*time.Millisecond),

		OTELServiceName:           p.str("OTEL_SERVICE_NAME", "session-guard"),
		OTELEnvironment:           p.str("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  p.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.boolean("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.boolean("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.boolean("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSamplingRatio:    p.float("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		PrometheusMetricsEnabled:  p.boolean("PROMETHEUS_METRICS_ENABLED", false),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, fmt.Errorf("validate config: %s", msg))
		}
	}
	require(c.DatabaseDriver == "postgres" || c.DatabaseDriver == "sqlite", "DATABASE_DRIVER must be postgres or sqlite")
	require(c.DatabaseURL != "", "DATABASE_URL is required")
	require(!c.IsProduction() || c.DatabaseDriver != "sqlite", "DATABASE_DRIVER=sqlite is not allowed in production")
	require(len(c.JWTAccessSecret) >= 32, "JWT_ACCESS_SECRET must be at least 32 bytes")
	require(len(c.JWTChallengeSecret) >= 32, "JWT_CHALLENGE_SECRET must be at least 32 bytes")
	require(c.JWTAccessSecret != c.JWTChallengeSecret, "JWT_CHALLENGE_SECRET must differ from JWT_ACCESS_SECRET")
	require(len(c.RefreshTokenPepper) >= 16, "REFRESH_TOKEN_PEPPER must be at least 16 bytes")
	require(c.RefreshTokenBytes >= 32 && c.RefreshTokenBytes <= 64, "REFRESH_TOKEN_BYTES must be between 32 and 64")
	require(c.JWTAccessTTL > 0, "JWT_ACCESS_TTL must be positive")
	require(c.TOTPChallengeTTL > 0 && c.TOTPChallengeTTL <= 15*time.Minute, "TOTP_CHALLENGE_TTL must be in (0, 15m]")
	require(c.RefreshTokenTTL > c.JWTAccessTTL, "REFRESH_TOKEN_TTL must exceed JWT_ACCESS_TTL")
	require(c.SessionMaxConcurrent >= 0, "SESSION_MAX_CONCURRENT must not be negative")
	require(c.SessionIdleTimeoutDays >= 0, "SESSION_IDLE_TIMEOUT_DAYS must not be negative")
	require(c.TOTPMaxFailedAttempts >= 0, "TOTP_MAX_FAILED_ATTEMPTS must not be negative")
	require(c.TOTPMaxFailedAttempts == 0 || c.TOTPFailedAttemptWindow > 0, "TOTP_FAILED_ATTEMPT_WINDOW must be positive")
	require(c.AuditWriteMaxAttempts >= 1, "AUDIT_WRITE_MAX_ATTEMPTS must be at least 1")
	require(c.OTELTraceSamplingRatio >= 0 && c.OTELTraceSamplingRatio <= 1, "OTEL_TRACE_SAMPLING_RATIO must be in [0, 1]")
	if len(c.KafkaBrokers) > 0 {
		require(c.KafkaSecurityAlertTopic != "", "KAFKA_SECURITY_ALERT_TOPIC is required when KAFKA_BROKERS is set")
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return normalizeConfigProfile(c.AppEnv) == "production"
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
