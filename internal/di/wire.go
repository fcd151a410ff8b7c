//go:build wireinject

package di

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/sandeepkv93/session-guard/internal/app"
	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

var repositorySet = wire.NewSet(
	provideDB,
	repository.NewTxManager,
	repository.NewFamilyRepository,
	repository.NewUserRepository,
	repository.NewSecurityEventRepository,
	repository.NewTrustedDeviceRepository,
)

var serviceSet = wire.NewSet(
	provideClock,
	provideRedis,
	provideAttemptCounter,
	provideNotifier,
	provideJWTManager,
	provideTOTPVerifier,
	providePasswordHasher,
	provideSecurityEventLog,
	provideTokenFamilyEngine,
	provideSessionEnforcer,
	provideDeviceTracker,
	provideSessionIssuer,
	provideChallengeService,
	provideLoginService,
)

var httpSet = wire.NewSet(
	provideAuthHandler,
	provideSessionHandler,
	provideRouter,
	provideHTTPServer,
)

func InitializeApp(cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(repositorySet, serviceSet, httpSet, provideApp)
	return nil, nil, nil
}
