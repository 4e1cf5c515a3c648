package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/logger"
	"paleteria/backend/internal/service"
	"paleteria/backend/internal/xid"
)

var (
	sellerRoles  = []string{domain.RoleCashier, domain.RoleAdmin, domain.RoleSuperSU}
	managerRoles = []string{domain.RoleAdmin, domain.RoleSuperSU}
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	log           *logger.Logger
	gatherer      prometheus.Gatherer
}

type Option func(*API)

func WithLogger(l *logger.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *API) { a.gatherer = g }
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func currentHourBucket() int64 {
	return time.Now().UTC().Truncate(time.Hour).Unix()
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(currentHourBucket())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := currentHourBucket()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)
	if a.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, sellerRoles...))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, sellerRoles...))

	mux.HandleFunc("/api/v1/promos", a.requireAuth(a.handlePromos, sellerRoles...))
	mux.HandleFunc("/api/v1/promos/apply", a.requireAuth(a.handlePromoApply, sellerRoles...))

	mux.HandleFunc("/api/v1/sales/quote", a.requireAuth(a.handleSaleQuote, sellerRoles...))
	mux.HandleFunc("/api/v1/sales/commit", a.requireAuth(a.handleSaleCommit, sellerRoles...))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, sellerRoles...))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, sellerRoles...))

	mux.HandleFunc("/api/v1/receipts", a.requireAuth(a.handleReceipts, sellerRoles...))
	mux.HandleFunc("/api/v1/receipts/presets", a.requireAuth(a.handleReceiptPresets, sellerRoles...))
	mux.HandleFunc("/api/v1/receipts/", a.requireAuth(a.handleReceiptActions, sellerRoles...))

	mux.HandleFunc("/api/v1/inventory/stock/", a.requireAuth(a.handleInventoryStock, sellerRoles...))
	mux.HandleFunc("/api/v1/inventory/kardex/", a.requireAuth(a.handleInventoryKardex, sellerRoles...))
	mux.HandleFunc("/api/v1/inventory/packs", a.requireAuth(a.handlePackRules, sellerRoles...))
	mux.HandleFunc("/api/v1/inventory/summary", a.requireAuth(a.handleInventorySummary, managerRoles...))
	mux.HandleFunc("/api/v1/inventory/convert", a.requireAuth(a.handleConvert, managerRoles...))
	mux.HandleFunc("/api/v1/inventory/convert/from-receipt", a.requireAuth(a.handleConvertFromReceipt, managerRoles...))
	mux.HandleFunc("/api/v1/inventory/convert/log", a.requireAuth(a.handleConversionLog, managerRoles...))
	mux.HandleFunc("/api/v1/inventory/convert/revert", a.requireAuth(a.handleConvertRevert, managerRoles...))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, managerRoles...))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, managerRoles...))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, managerRoles...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = a.log.WithActor(ctx, actor.Username, actor.Role)
		next(w, r.WithContext(ctx))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w, r)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour
// bucket. Mutating requests must echo it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch && method != http.MethodDelete {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(a.log.WithRequestID(r.Context(), requestID))

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut || r.Method == http.MethodDelete) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info(r.Context(), "http request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
	})
}
