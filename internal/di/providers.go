package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-guard/internal/app"
	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/http/handler"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/router"
	"github.com/sandeepkv93/session-guard/internal/notify"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
	"github.com/sandeepkv93/session-guard/internal/service"
)

func provideClock() clock.Clock { return clock.System() }

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// provideRedis returns nil when REDIS_ADDR is unset; counters then fall
// back to process memory.
func provideRedis(cfg *config.Config) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }
}

func provideAttemptCounter(client redis.UniversalClient, clk clock.Clock) service.AttemptCounter {
	if client == nil {
		return service.NewInMemoryAttemptCounter(clk)
	}
	return service.NewRedisAttemptCounter(client, "session-guard")
}

func provideNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.NewLogNotifier(logger), func() {}
	}
	n := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaSecurityAlertTopic)
	return n, func() {
		if err := n.Close(); err != nil {
			logger.Warn("close kafka notifier", "error", err)
		}
	}
}

func provideJWTManager(cfg *config.Config, clk clock.Clock) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTChallengeSecret, clk)
}

func provideTOTPVerifier(users *repository.GormUserRepository, clk clock.Clock, cfg *config.Config) *security.TOTPVerifier {
	return security.NewTOTPVerifier(users, clk, cfg.TOTPSkew)
}

func providePasswordHasher() *security.BcryptHasher {
	return security.NewBcryptHasher(bcrypt.DefaultCost)
}

func provideSecurityEventLog(events *repository.GormSecurityEventRepository, clk clock.Clock, logger *slog.Logger, cfg *config.Config) *service.SecurityEventLog {
	return service.NewSecurityEventLog(events, clk, logger, service.SecurityEventLogConfig{
		MaxAttempts:    cfg.AuditWriteMaxAttempts,
		InitialBackoff: cfg.AuditWriteInitialBackoff,
	})
}

func provideTokenFamilyEngine(
	families *repository.GormFamilyRepository,
	users *repository.GormUserRepository,
	tx *repository.TxManager,
	events *service.SecurityEventLog,
	notifier notify.Notifier,
	clk clock.Clock,
	logger *slog.Logger,
	cfg *config.Config,
) *service.TokenFamilyEngine {
	return service.NewTokenFamilyEngine(families, users, tx, events, notifier, clk, logger, service.EngineConfig{
		RefreshTTL:      cfg.RefreshTokenTTL,
		TokenBytes:      cfg.RefreshTokenBytes,
		Pepper:          cfg.RefreshTokenPepper,
		IdleTimeoutDays: cfg.SessionIdleTimeoutDays,
	})
}

func provideSessionEnforcer(families *repository.GormFamilyRepository, engine *service.TokenFamilyEngine, clk clock.Clock) *service.SessionEnforcer {
	return service.NewSessionEnforcer(families, engine, clk)
}

func provideDeviceTracker(devices *repository.GormTrustedDeviceRepository, clk clock.Clock) *service.DeviceTracker {
	return service.NewDeviceTracker(devices, clk)
}

func provideSessionIssuer(
	engine *service.TokenFamilyEngine,
	enforcer *service.SessionEnforcer,
	devices *service.DeviceTracker,
	tokens *security.JWTManager,
	tx *repository.TxManager,
	events *service.SecurityEventLog,
	logger *slog.Logger,
	cfg *config.Config,
) *service.SessionIssuer {
	return service.NewSessionIssuer(engine, enforcer, devices, tokens, tx, events, logger, service.SessionIssuerConfig{
		AccessTTL:   cfg.JWTAccessTTL,
		RefreshTTL:  cfg.RefreshTokenTTL,
		MaxSessions: cfg.SessionMaxConcurrent,
	})
}

func provideChallengeService(
	tokens *security.JWTManager,
	verifier *security.TOTPVerifier,
	users *repository.GormUserRepository,
	issuer *service.SessionIssuer,
	attempts service.AttemptCounter,
	events *service.SecurityEventLog,
	clk clock.Clock,
	logger *slog.Logger,
	cfg *config.Config,
) *service.ChallengeService {
	return service.NewChallengeService(tokens, verifier, users, issuer, attempts, events, clk, logger, service.ChallengeConfig{
		ChallengeTTL:      cfg.TOTPChallengeTTL,
		MaxFailedAttempts: cfg.TOTPMaxFailedAttempts,
		AttemptWindow:     cfg.TOTPFailedAttemptWindow,
	})
}

func provideLoginService(
	users *repository.GormUserRepository,
	passwords *security.BcryptHasher,
	challenges *service.ChallengeService,
	issuer *service.SessionIssuer,
) *service.LoginService {
	return service.NewLoginService(users, passwords, challenges, issuer)
}

func provideAuthHandler(
	login *service.LoginService,
	challenges *service.ChallengeService,
	issuer *service.SessionIssuer,
	engine *service.TokenFamilyEngine,
) *handler.AuthHandler {
	return handler.NewAuthHandler(login, challenges, issuer, engine)
}

func provideSessionHandler(
	engine *service.TokenFamilyEngine,
	enforcer *service.SessionEnforcer,
	events *service.SecurityEventLog,
	cfg *config.Config,
) *handler.SessionHandler {
	return handler.NewSessionHandler(engine, enforcer, cfg.SessionIdleTimeoutDays, events)
}

type dbReadiness struct{ db *gorm.DB }

func (r dbReadiness) Ready(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func provideRouter(
	cfg *config.Config,
	auth *handler.AuthHandler,
	sessions *handler.SessionHandler,
	tokens *security.JWTManager,
	attempts service.AttemptCounter,
	db *gorm.DB,
	clk clock.Clock,
) http.Handler {
	// a shared counter keeps auth limits consistent across replicas when
	// redis is configured
	authLimiter := middleware.NewRateLimiter(attempts, cfg.AuthRateLimitPerMinute, time.Minute, middleware.FailClosed, "auth").WithClock(clk)
	var metrics http.Handler
	if cfg.PrometheusMetricsEnabled {
		metrics = observability.NewPrometheusHandler()
	}
	return router.NewRouter(router.Dependencies{
		AuthHandler:      auth,
		SessionHandler:   sessions,
		AccessTokens:     tokens,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMinute,
		AuthRateLimiter:  authLimiter.Middleware(),
		Readiness:        dbReadiness{db: db},
		MetricsHandler:   metrics,
		EnableOTelHTTP:   cfg.OTELTracingEnabled,
		Clock:            clk,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime) *app.App {
	return app.New(cfg, logger, server, runtime)
}
