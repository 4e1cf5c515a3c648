package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paleteria/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caja-1-0001")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, "caja-1-0001", res.Header().Get("X-Request-ID"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 {
			assert.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, res.Code, "attempt %d", i+1)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cajero", "cajero123")

	body, _ := json.Marshal(domain.QuoteRequest{Cart: paletaCart(1)})
	send := func(csrf string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/quote", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res.Code
	}

	assert.Equal(t, http.StatusForbidden, send(""))
	assert.Equal(t, http.StatusForbidden, send("not-a-token"))
	assert.Equal(t, http.StatusOK, send(fetchCSRFToken(t, api)))
}

func TestCSRFTokenAcceptsPreviousHour(t *testing.T) {
	api := newTestAPI(t)
	current := fetchCSRFToken(t, api)
	require.True(t, api.validateCSRFToken(current))

	bucket := currentHourBucket()
	assert.True(t, api.validateCSRFToken(api.csrfTokenForHour(bucket-3600)))
	assert.False(t, api.validateCSRFToken(api.csrfTokenForHour(bucket-7200)))
}

func TestRejectsTamperedBearerToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 100, parsePositiveLimit("9999", 20, 100))
	assert.Equal(t, 20, parsePositiveLimit("", 20, 100))
	assert.Equal(t, 20, parsePositiveLimit("invalid", 20, 100))
	assert.Equal(t, 20, parsePositiveLimit("-3", 20, 100))
	assert.Equal(t, 7, parsePositiveLimit(" 7 ", 20, 100))
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:4411"
	assert.Equal(t, "10.0.0.7", clientKey(req))

	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientKey(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", clientKey(req))
}
