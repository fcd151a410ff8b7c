package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/http/handler"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/security"
	"github.com/sandeepkv93/session-guard/internal/service"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Ready(context.Context) error { return errors.New("db down") }

type noopSessions struct{}

func (noopSessions) ActiveFamilies(context.Context, string) ([]domain.TokenFamily, error) {
	return nil, nil
}

func (noopSessions) RevokeAllExcept(context.Context, string, string) (int, error) { return 0, nil }

func (noopSessions) RevokeForUser(context.Context, string, string, domain.RevokeReason) error {
	return nil
}

type rejectingRefresher struct{}

func (rejectingRefresher) Refresh(context.Context, string, service.RequestMeta) (*service.AuthResult, error) {
	return nil, service.ErrInvalidCredential
}

func newJWTManager() *security.JWTManager {
	return security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321", nil)
}

func newRouterTestDeps() Dependencies {
	return Dependencies{
		AuthHandler:      handler.NewAuthHandler(nil, nil, rejectingRefresher{}, noopSessions{}),
		SessionHandler:   handler.NewSessionHandler(noopSessions{}, nil, 0, nil),
		AccessTokens:     newJWTManager(),
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  1000,
		EnableOTelHTTP:   false,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func bearerToken(t *testing.T, jwtMgr *security.JWTManager) string {
	t.Helper()
	token, _, err := jwtMgr.SignAccessToken("user-42", "family-1", time.Hour)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	return token
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		r := NewRouter(newRouterTestDeps())
		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = unhealthyChecker{}
		r := NewRouter(dep)
		rr := perform(r, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
		if strings.Contains(rr.Body.String(), "db down") {
			t.Fatal("readiness error detail must not leak")
		}
	})
}

func TestRouterHealthLiveAlwaysOK(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected health live payload, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on every response")
	}
}

func TestRouterFallbackGlobalRateLimiterWhenCustomNil(t *testing.T) {
	dep := newRouterTestDeps()
	dep.APIRateLimitRPM = 1
	r := NewRouter(dep)

	first := perform(r, http.MethodGet, "/health/live", nil, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", first.Code)
	}
	second := perform(r, http.MethodGet, "/health/live", nil, "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429 from fallback limiter, got %d", second.Code)
	}
}

func TestRouterFallbackLimiterFollowsInjectedClock(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dep := newRouterTestDeps()
	dep.APIRateLimitRPM = 1
	dep.Clock = clk
	r := NewRouter(dep)

	if rr := perform(r, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rr.Code)
	}
	if rr := perform(r, http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr.Code)
	}
	clk.Advance(time.Minute)
	rr := perform(r, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected the window to lapse on the injected clock, got %d", rr.Code)
	}
	if got, want := rr.Header().Get("X-RateLimit-Reset"), "1772366520"; got != want {
		t.Fatalf("expected reset %s, got %s", want, got)
	}
}

func TestRouterRoutePolicyOverridesPerNamedPolicy(t *testing.T) {
	dep := newRouterTestDeps()
	policyHits := map[string]int{}
	policy := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				policyHits[name]++
				w.Header().Set("X-Policy", name)
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}
	dep.RouteRateLimitPolicies = RouteRateLimitPolicies{
		RoutePolicyLogin:   policy(RoutePolicyLogin),
		RoutePolicyTOTP:    policy(RoutePolicyTOTP),
		RoutePolicyRefresh: policy(RoutePolicyRefresh),
	}
	r := NewRouter(dep)

	paths := map[string]string{
		"/api/v1/auth/login":       RoutePolicyLogin,
		"/api/v1/auth/totp/verify": RoutePolicyTOTP,
		"/api/v1/auth/refresh":     RoutePolicyRefresh,
	}
	for path, name := range paths {
		rr := perform(r, http.MethodPost, path, nil, `{}`)
		if rr.Code != http.StatusNoContent || rr.Header().Get("X-Policy") != name {
			t.Fatalf("%s policy override not applied, status=%d policy=%q", name, rr.Code, rr.Header().Get("X-Policy"))
		}
	}
	for name, hits := range policyHits {
		if hits != 1 {
			t.Fatalf("expected one hit for %s, got %d", name, hits)
		}
	}
}

func TestRouterRefreshErrorsUseEnvelope(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodPost, "/api/v1/auth/refresh", nil, `{"refresh_token":"nope"}`)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), `"code":"INVALID_CREDENTIALS"`) {
		t.Fatalf("expected INVALID_CREDENTIALS 401, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-RateLimit-Limit") != "1000" {
		t.Fatalf("expected auth limiter headers, got %q", rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRouterSessionRoutesRequireAccessToken(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)
	token := bearerToken(t, newJWTManager())

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/me/sessions"},
		{http.MethodPost, "/api/v1/me/sessions/revoke-others"},
		{http.MethodDelete, "/api/v1/me/sessions/family-9"},
		{http.MethodPost, "/api/v1/auth/logout"},
	}
	for _, tc := range cases {
		rr := perform(r, tc.method, tc.path, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
		rr = perform(r, tc.method, tc.path, map[string]string{"Authorization": "Bearer " + token}, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s %s with token: expected 200, got %d body=%s", tc.method, tc.path, rr.Code, rr.Body.String())
		}
	}
}

func TestRouterMetricsEndpointIsOptIn(t *testing.T) {
	rr := perform(NewRouter(newRouterTestDeps()), http.MethodGet, "/metrics", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a metrics handler, got %d", rr.Code)
	}

	deps := newRouterTestDeps()
	deps.MetricsHandler = observability.NewPrometheusHandler()
	rr = perform(NewRouter(deps), http.MethodGet, "/metrics", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatal("expected go runtime metrics in scrape output")
	}
}
