package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GandRedZ/RedZ/internal/auth"
	"github.com/GandRedZ/RedZ/internal/auth/token"
	"github.com/GandRedZ/RedZ/internal/config"
	"github.com/GandRedZ/RedZ/internal/ratelimit"
	"github.com/GandRedZ/RedZ/internal/store"
)

type testEnv struct {
	gate   *Gate
	tokens *token.Service
	seen   *auth.Principal
}

func newTestEnv(t *testing.T, section config.GateSection) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client, "test:")
	t.Cleanup(func() { _ = st.Close() })

	keys, err := token.LoadKeys(token.KeyConfig{Algorithm: token.AlgHS256, Secret: "gate-test-secret"})
	require.NoError(t, err)

	env := &testEnv{
		tokens: token.NewService(token.DefaultConfig(), keys, token.WithStore(st)),
	}
	limiter := ratelimit.NewSlidingWindowLimiter(st)
	env.gate = New(env.tokens, limiter, RulesFromConfig(section))
	return env
}

func (e *testEnv) handler() http.Handler {
	return e.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.seen = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
}

func (e *testEnv) accessToken(t *testing.T, req token.IssueRequest) string {
	t.Helper()
	signed, _, err := e.tokens.IssueAccessToken(context.Background(), req)
	require.NoError(t, err)
	return signed
}

func defaultSection() config.GateSection {
	return config.GateSection{
		DefaultRateLimit: config.RateLimitConfig{
			MaxRequests: 100,
			Window:      config.Duration(time.Minute),
		},
		Routes: []config.RouteConfig{
			{
				Name:   "docs-read",
				Method: "GET",
				Path:   "/v1/documents",
				Auth:   config.AuthRequired,
				Require: &config.RequireConfig{
					AnyOf: []string{"documents:read"},
				},
			},
			{
				Name:   "docs-write",
				Method: "POST",
				Path:   "/v1/documents",
				Auth:   config.AuthRequired,
				Require: &config.RequireConfig{
					AllOf: []string{"documents:write"},
				},
			},
			{
				Name:   "reports",
				Method: "GET",
				Path:   "/v1/reports",
				Auth:   config.AuthRequired,
				Require: &config.RequireConfig{
					AnyOf:       []string{"reports:view"},
					Departments: []string{"finance"},
				},
			},
			{
				Name:   "whoami",
				Method: "GET",
				Path:   "/v1/whoami",
				Auth:   config.AuthAdvisory,
			},
		},
	}
}

func doRequest(h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "192.0.2.10:1234"
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeReject(t *testing.T, w *httptest.ResponseRecorder) rejectBody {
	t.Helper()
	var body rejectBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

// TestGate_MissingToken verifies the 401 rejection for a guarded
// route without a token.
func TestGate_MissingToken(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	w := doRequest(h, "GET", "/v1/documents", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeReject(t, w)
	assert.False(t, body.Success)
	assert.Equal(t, auth.CodeTokenMissing, body.Error)
	assert.NotEmpty(t, body.Message)
}

// TestGate_InvalidToken verifies the 401 rejection for a garbage
// token.
func TestGate_InvalidToken(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	w := doRequest(h, "GET", "/v1/documents", "not-a-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeTokenMalformed, decodeReject(t, w).Error)
}

// TestGate_AllowedRequest verifies the happy path end to end: the
// principal reaches the handler and rate limit headers are set.
func TestGate_AllowedRequest(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	bearer := env.accessToken(t, token.IssueRequest{
		Subject: "user-1",
		Role:    "user",
	})

	w := doRequest(h, "GET", "/v1/documents", bearer)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.seen)
	assert.Equal(t, "user-1", env.seen.Subject)

	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

// TestGate_InsufficientPermissions verifies the 403 rejection.
func TestGate_InsufficientPermissions(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	bearer := env.accessToken(t, token.IssueRequest{
		Subject: "viewer-1",
		Role:    "viewer",
	})

	w := doRequest(h, "POST", "/v1/documents", bearer)

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeReject(t, w)
	assert.Equal(t, auth.CodeInsufficientPermissions, body.Error)
	assert.Nil(t, env.seen)
}

// TestGate_DepartmentCheck verifies department scoping and the admin
// bypass.
func TestGate_DepartmentCheck(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	sales := env.accessToken(t, token.IssueRequest{
		Subject:    "m-1",
		Role:       "manager",
		Department: "sales",
	})
	w := doRequest(h, "GET", "/v1/reports", sales)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, auth.CodeWrongDepartment, decodeReject(t, w).Error)

	admin := env.accessToken(t, token.IssueRequest{
		Subject:    "a-1",
		Role:       "admin",
		Department: "sales",
	})
	w = doRequest(h, "GET", "/v1/reports", admin)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestGate_RateLimited verifies the 429 rejection with retry
// guidance, and that a denied request still counted.
func TestGate_RateLimited(t *testing.T) {
	section := defaultSection()
	section.Routes[0].RateLimit = &config.RateLimitConfig{
		MaxRequests: 2,
		Window:      config.Duration(time.Minute),
	}
	env := newTestEnv(t, section)
	h := env.handler()

	bearer := env.accessToken(t, token.IssueRequest{Subject: "user-1", Role: "user"})

	for i := 0; i < 2; i++ {
		w := doRequest(h, "GET", "/v1/documents", bearer)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(h, "GET", "/v1/documents", bearer)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	body := decodeReject(t, w)
	assert.Equal(t, auth.CodeRateLimited, body.Error)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)
	assert.Equal(t, 2, body.Limit)
	assert.NotEmpty(t, body.ResetAt)

	_, err := time.Parse(time.RFC3339, body.ResetAt)
	assert.NoError(t, err)
}

// TestGate_UnauthenticatedConsumesQuota verifies that requests which
// fail required authentication still charge the window, while the
// caller keeps seeing 401 rather than 429 once the quota is gone.
func TestGate_UnauthenticatedConsumesQuota(t *testing.T) {
	section := defaultSection()
	section.Routes[0].RateLimit = &config.RateLimitConfig{
		MaxRequests: 2,
		Window:      config.Duration(time.Minute),
	}
	env := newTestEnv(t, section)
	h := env.handler()

	w := doRequest(h, "GET", "/v1/documents", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = doRequest(h, "GET", "/v1/documents", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Over quota now, but the authentication rejection still wins.
	w = doRequest(h, "GET", "/v1/documents", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeTokenMissing, decodeReject(t, w).Error)
}

// TestGate_AdvisoryOverQuota verifies that an anonymous caller on an
// advisory route is rate limited once the window fills.
func TestGate_AdvisoryOverQuota(t *testing.T) {
	section := defaultSection()
	section.Routes[3].RateLimit = &config.RateLimitConfig{
		MaxRequests: 1,
		Window:      config.Duration(time.Minute),
	}
	env := newTestEnv(t, section)
	h := env.handler()

	w := doRequest(h, "GET", "/v1/whoami", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(h, "GET", "/v1/whoami", "garbage")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, auth.CodeRateLimited, decodeReject(t, w).Error)
}

// TestGate_AdvisoryAuth verifies that advisory routes serve both
// authenticated and anonymous callers.
func TestGate_AdvisoryAuth(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	// Anonymous.
	w := doRequest(h, "GET", "/v1/whoami", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, env.seen)

	// Garbage token degrades to anonymous instead of 401.
	w = doRequest(h, "GET", "/v1/whoami", "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, env.seen)

	// A valid token attaches the principal.
	bearer := env.accessToken(t, token.IssueRequest{Subject: "user-1", Role: "user"})
	w = doRequest(h, "GET", "/v1/whoami", bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.seen)
	assert.Equal(t, "user-1", env.seen.Subject)
}

// TestGate_UnguardedRoutePassesThrough verifies that routes outside
// the rule set are untouched.
func TestGate_UnguardedRoutePassesThrough(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	w := doRequest(h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

// TestGate_RoleMultiplier verifies that the multiplier scales the
// request budget, not the key.
func TestGate_RoleMultiplier(t *testing.T) {
	section := defaultSection()
	section.Routes[0].RateLimit = &config.RateLimitConfig{
		MaxRequests: 1,
		Window:      config.Duration(time.Minute),
	}
	section.RoleMultipliers = map[string]float64{"admin": 3}
	env := newTestEnv(t, section)
	h := env.handler()

	admin := env.accessToken(t, token.IssueRequest{Subject: "a-1", Role: "admin"})
	for i := 0; i < 3; i++ {
		w := doRequest(h, "GET", "/v1/documents", admin)
		require.Equal(t, http.StatusOK, w.Code, "admin request %d", i+1)
	}
	w := doRequest(h, "GET", "/v1/documents", admin)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	user := env.accessToken(t, token.IssueRequest{Subject: "u-1", Role: "user"})
	w = doRequest(h, "GET", "/v1/documents", user)
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(h, "GET", "/v1/documents", user)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

// TestGate_RevokedTokenRejected verifies that a revoked token is
// rejected at the boundary.
func TestGate_RevokedTokenRejected(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	signed, claims, err := env.tokens.IssueAccessToken(context.Background(), token.IssueRequest{
		Subject: "user-1",
		Role:    "user",
	})
	require.NoError(t, err)

	w := doRequest(h, "GET", "/v1/documents", signed)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, env.tokens.Revoke(context.Background(), claims.ID))

	w = doRequest(h, "GET", "/v1/documents", signed)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeTokenInvalid, decodeReject(t, w).Error)
}

// TestGate_UpdateRules verifies the hot swap of the rule set.
func TestGate_UpdateRules(t *testing.T) {
	env := newTestEnv(t, defaultSection())
	h := env.handler()

	w := doRequest(h, "GET", "/v1/newpath", "")
	assert.Equal(t, http.StatusOK, w.Code, "unguarded before swap")

	updated := defaultSection()
	updated.Routes = append(updated.Routes, config.RouteConfig{
		Name:   "newpath",
		Method: "GET",
		Path:   "/v1/newpath",
		Auth:   config.AuthRequired,
	})
	env.gate.UpdateRules(RulesFromConfig(updated))

	w = doRequest(h, "GET", "/v1/newpath", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "guarded after swap")
}

// TestRules_LimitFor covers limit resolution and multiplier clamping.
func TestRules_LimitFor(t *testing.T) {
	section := defaultSection()
	section.RoleMultipliers = map[string]float64{"viewer": 0.001, "admin": 2}
	section.Routes[0].RateLimit = &config.RateLimitConfig{
		MaxRequests: 10,
		Window:      config.Duration(time.Second),
	}
	rules := RulesFromConfig(section)

	route := rules.Lookup("GET", "/v1/documents")
	require.NotNil(t, route)

	assert.Equal(t, 10, rules.LimitFor(route, "user").MaxRequests)
	assert.Equal(t, 20, rules.LimitFor(route, "admin").MaxRequests)
	// A tiny multiplier never drops the budget below one request.
	assert.Equal(t, 1, rules.LimitFor(route, "viewer").MaxRequests)

	// Routes without their own limit use the default.
	whoami := rules.Lookup("GET", "/v1/whoami")
	require.NotNil(t, whoami)
	assert.Equal(t, 100, rules.LimitFor(whoami, "user").MaxRequests)
}
