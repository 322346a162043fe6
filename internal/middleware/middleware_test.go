package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/config"
	"github.com/kzp/zoo-ticketing/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, StaffID(c)+"/"+StaffRole(c))
}

func serve(t *testing.T, h echo.HandlerFunc, auth string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/x", h)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, key string, id uint64, role string, ttl int) string {
	t.Helper()
	tok, err := utils.NewAccessToken(key, id, role, ttl)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok.Token
}

func TestJWTAuth(t *testing.T) {
	protected := JWTAuth(secret)(whoami)
	cases := []struct {
		name   string
		auth   string
		status int
		body   string
	}{
		{"valid", "Bearer " + token(t, secret, 42, "SCANNER", 15), http.StatusOK, "42/SCANNER"},
		{"missing", "", http.StatusUnauthorized, "missing bearer token"},
		{"not bearer", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "missing bearer token"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "invalid token"},
		{"wrong secret", "Bearer " + token(t, "other", 42, "ADMIN", 15), http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + token(t, secret, 42, "ADMIN", -5), http.StatusUnauthorized, "invalid token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, protected, tc.auth)
			if rec.Code != tc.status || !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("got %d %q, want %d containing %q", rec.Code, rec.Body.String(), tc.status, tc.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := JWTAuth(secret)(RequireRole("ADMIN", "COUNTER")(whoami))
	if rec := serve(t, h, "Bearer "+token(t, secret, 1, "COUNTER", 15)); rec.Code != http.StatusOK {
		t.Fatalf("COUNTER rejected: %d", rec.Code)
	}
	rec := serve(t, h, "Bearer "+token(t, secret, 1, "SCANNER", 15))
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"forbidden"`) {
		t.Fatalf("SCANNER got %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(t, RequireRole("ADMIN")(whoami), ""); rec.Code != http.StatusForbidden {
		t.Fatalf("unauthenticated got %d", rec.Code)
	}
}

func TestStaffIDAnonymous(t *testing.T) {
	rec := serve(t, whoami, "")
	if rec.Body.String() != "anon/" {
		t.Fatalf("got %q", rec.Body.String())
	}
}

func TestPassThroughWithoutRedis(t *testing.T) {
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "ok")
	}
	limited := NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil)(h)
	cached := NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil)(h)
	for i := 0; i < 3; i++ {
		if rec := serve(t, limited, ""); rec.Code != http.StatusOK {
			t.Fatalf("limiter without redis blocked request %d", i)
		}
		if rec := serve(t, cached, ""); rec.Header().Get("X-Cache") != "" {
			t.Fatalf("cache without redis touched headers")
		}
	}
	if calls != 6 {
		t.Fatalf("handler ran %d times, want 6", calls)
	}
	if err := PurgeCache(context.Background(), nil, "cache"); err != nil {
		t.Fatalf("purge without redis: %v", err)
	}
}

func TestCachePayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"tariffs":[]}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || got.Get("Content-Type") != "application/json" || string(body) != `{"tariffs":[]}` {
		t.Fatalf("decoded %d %v %q %v", status, got, body, ok)
	}
	if _, _, _, ok := decodePayload(bs[:6]); ok {
		t.Fatalf("truncated payload decoded")
	}
}
