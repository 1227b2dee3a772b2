package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signTestKey(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAPIKeyMiddlewareAcceptsValidToken(t *testing.T) {
	handler := APIKeyMiddleware("test-secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	req.Header.Set("X-API-Key", signTestKey(t, "test-secret"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	handler := APIKeyMiddleware("test-secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error": "missing key"}`, rr.Body.String())
}

func TestAPIKeyMiddlewareRejectsWrongSecret(t *testing.T) {
	handler := APIKeyMiddleware("test-secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	req.Header.Set("X-API-Key", signTestKey(t, "other-secret"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIKeyMiddlewareRejectsExpiredToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	handler := APIKeyMiddleware("test-secret")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	req.Header.Set("X-API-Key", signed)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPIKeyMiddlewareDisabledWithoutSecret(t *testing.T) {
	handler := APIKeyMiddleware("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddlewarePerIP(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(okHandler())

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/generic/inbound", nil)
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1234"))

	// A different caller has its own bucket.
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234"))
}

func TestRateLimitMiddlewareDisabledAtZero(t *testing.T) {
	handler := RateLimitMiddleware(0, 0)(okHandler())

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/generic/inbound", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestCORSMiddlewareHeadersAndPreflight(t *testing.T) {
	handler := CORSMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/calls", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-Twilio-Signature")
}

func TestValidationMiddlewareRejectsNonJSONPost(t *testing.T) {
	handler := ValidationMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/calls", nil)
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}
