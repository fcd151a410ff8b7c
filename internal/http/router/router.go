package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/http/handler"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/service"
)

const (
	RoutePolicyLogin   = "login"
	RoutePolicyTOTP    = "totp"
	RoutePolicyRefresh = "refresh"
)

// RouteRateLimitPolicies overrides the shared auth limiter per route.
type RouteRateLimitPolicies map[string]func(http.Handler) http.Handler

type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

type Dependencies struct {
	AuthHandler            *handler.AuthHandler
	SessionHandler         *handler.SessionHandler
	AccessTokens           middleware.AccessTokenParser
	AuthRateLimitRPM       int
	APIRateLimitRPM        int
	GlobalRateLimiter      func(http.Handler) http.Handler
	AuthRateLimiter        func(http.Handler) http.Handler
	RouteRateLimitPolicies RouteRateLimitPolicies
	Readiness              ReadinessChecker
	MetricsHandler         http.Handler
	EnableOTelHTTP         bool
	Clock                  clock.Clock
}

func NewRouter(dep Dependencies) http.Handler {
	if dep.Clock == nil {
		dep.Clock = clock.System()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else if dep.APIRateLimitRPM > 0 {
		r.Use(localLimiter(dep.Clock, dep.APIRateLimitRPM, "api"))
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = localLimiter(dep.Clock, dep.AuthRateLimitRPM, "auth")
	}
	routeLimiter := func(name string) func(http.Handler) http.Handler {
		if l, ok := dep.RouteRateLimitPolicies[name]; ok && l != nil {
			return l
		}
		return authLimiter
	}
	requireAuth := middleware.AuthMiddleware(dep.AccessTokens)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		if err := dep.Readiness.Ready(r.Context()); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	if dep.MetricsHandler != nil {
		r.Handle("/metrics", dep.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(routeLimiter(RoutePolicyLogin)).Post("/login", dep.AuthHandler.Login)
			r.With(routeLimiter(RoutePolicyTOTP)).Post("/totp/verify", dep.AuthHandler.VerifyTOTP)
			r.With(routeLimiter(RoutePolicyRefresh)).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me/sessions", dep.SessionHandler.List)
			r.Post("/me/sessions/revoke-others", dep.SessionHandler.RevokeOthers)
			r.Delete("/me/sessions/{family_id}", dep.SessionHandler.Revoke)
			r.Get("/me/security-events", dep.SessionHandler.SecurityEvents)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func localLimiter(clk clock.Clock, rpm int, scope string) func(http.Handler) http.Handler {
	counter := service.NewInMemoryAttemptCounter(clk)
	return middleware.NewRateLimiter(counter, rpm, time.Minute, middleware.FailClosed, scope).WithClock(clk).Middleware()
}
