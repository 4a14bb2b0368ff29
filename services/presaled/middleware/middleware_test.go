package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"purchase": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("purchase")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/purchase", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"purchase": {RequestsPerMinute: 1, Burst: 1},
		"query":    {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	purchase := limiter.Middleware("purchase")(okHandler)
	query := limiter.Middleware("query")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	res := httptest.NewRecorder()
	purchase.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	query.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	other := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	res = httptest.NewRecorder()
	purchase.ServeHTTP(res, other)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("missing")(okHandler)
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, res.Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(map[string]RateLimit{"query": {RequestsPerMinute: 60, Burst: 5}}, nil)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("query")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, limiter.Visitors())

	now = now.Add(10 * time.Minute)
	req.RemoteAddr = "192.0.2.2:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, limiter.Visitors())
}

const testSecret = "presale-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorResolvesCaller(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "presale-ops"}, nil)
	require.NoError(t, err)
	operator := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	var seen common.Address
	handler := auth.Middleware(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, jwt.MapClaims{
		"sub":   operator.Hex(),
		"iss":   "presale-ops",
		"scope": "presale:admin presale:read",
		"exp":   time.Now().Add(time.Minute).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/upgrade", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, operator, seen)
}

func TestAuthenticatorRejections(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)
	handler := auth.Middleware(ScopeAdmin)(okHandler)
	valid := "0x00000000000000000000000000000000000000aa"
	future := time.Now().Add(time.Minute).Unix()

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":        {header: "", status: http.StatusUnauthorized},
		"wrong scheme":   {header: "Basic abc", status: http.StatusUnauthorized},
		"garbage":        {header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		"expired":        {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": valid, "scope": ScopeAdmin, "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
		"no expiry":      {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": valid, "scope": ScopeAdmin}), status: http.StatusUnauthorized},
		"bad subject":    {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": "operator", "scope": ScopeAdmin, "exp": future}), status: http.StatusUnauthorized},
		"zero subject":   {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": common.Address{}.Hex(), "scope": ScopeAdmin, "exp": future}), status: http.StatusUnauthorized},
		"missing scope":  {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": valid, "scope": "presale:read", "exp": future}), status: http.StatusForbidden},
		"scope as array": {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": valid, "scope": []string{ScopeAdmin}, "exp": future}), status: http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/upgrade", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
		})
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{HMACSecret: "  "}, nil)
	require.Error(t, err)
}

func TestObservabilityAssignsRequestID(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{ServiceName: "presaled-test", MetricsPrefix: "presaled_test"}, nil)
	var seen string
	handler := obs.Middleware("state")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/state", nil))
	require.Equal(t, http.StatusTeapot, res.Code)
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "fixed-id", res.Header().Get(RequestIDHeader))

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(metrics.Body.String(), `presaled_test_http_requests_total{method="GET",route="state",status="418"} 2`))
}
