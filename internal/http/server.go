// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"rhledger/internal/core"
	"rhledger/internal/dashboard"
	"rhledger/internal/log"
	"rhledger/internal/rates"
	"rhledger/internal/services"
)

// Ledger is the write side driven by the API.
type Ledger interface {
	Add(ctx context.Context, c core.Collection, in services.Entry) (core.Record, error)
	Replace(ctx context.Context, c core.Collection, id string, in services.Entry) (core.Record, error)
	Delete(ctx context.Context, c core.Collection, id string) error
	Archive(ctx context.Context, c core.Collection, id string) error
	Unarchive(ctx context.Context, c core.Collection, id string) error
	AttachReceipt(ctx context.Context, c core.Collection, id, filename, contentType string, r io.Reader) (string, error)
	RemoveAttachment(ctx context.Context, c core.Collection, id string) error
	SaveMonthlyStat(ctx context.Context, id string, income, expenses float64) (core.MonthlyStat, error)
	DeleteMonthlyStat(ctx context.Context, id string) error
}

// View is the live read side.
type View interface {
	Ready() bool
	Summary() dashboard.Summary
	Records(c core.Collection, archived bool) ([]core.Record, error)
	MonthlyStats() []core.MonthlyStat
}

// Rates quotes the exchange rate in use.
type Rates interface {
	Current() rates.Quote
	Convert(amount float64, from, to core.Currency) (float64, error)
}

type Options struct {
	Addr           string
	Ledger         Ledger
	View           View
	Rates          Rates
	Logger         *log.Logger
	MaxUploadBytes int64
	// WritesPerMinute caps mutating requests per client IP. Zero means 60.
	WritesPerMinute int
}

type Server struct {
	http.Server
	ledger      Ledger
	view        View
	rates       Rates
	logger      *log.Logger
	events      *log.StructuredLogger
	maxUpload   int64
	rateLimiter *rateLimiter
	metrics     securityMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	limit := opts.WritesPerMinute
	if limit <= 0 {
		limit = 60
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:      opts.Ledger,
		view:        opts.View,
		rates:       opts.Rates,
		logger:      logger,
		events:      log.NewStructuredLogger(logger),
		maxUpload:   maxUpload,
		rateLimiter: newRateLimiter(limit, time.Minute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/records/{collection}", s.handleListRecords)
	mux.HandleFunc("POST /api/records/{collection}", s.handleCreateRecord)
	mux.HandleFunc("PUT /api/records/{collection}/{id}", s.handleReplaceRecord)
	mux.HandleFunc("DELETE /api/records/{collection}/{id}", s.handleDeleteRecord)
	mux.HandleFunc("POST /api/records/{collection}/{id}/archive", s.handleSetArchived(true))
	mux.HandleFunc("POST /api/records/{collection}/{id}/unarchive", s.handleSetArchived(false))
	mux.HandleFunc("POST /api/records/{collection}/{id}/attachment", s.handleAttach)
	mux.HandleFunc("DELETE /api/records/{collection}/{id}/attachment", s.handleDetach)

	mux.HandleFunc("GET /api/monthly-stats", s.handleListMonthlyStats)
	mux.HandleFunc("PUT /api/monthly-stats/{month}", s.handlePutMonthlyStat)
	mux.HandleFunc("DELETE /api/monthly-stats/{month}", s.handleDeleteMonthlyStat)

	mux.HandleFunc("GET /api/rates", s.handleRates)
	mux.HandleFunc("POST /api/convert", s.handleConvert)

	s.Handler = withRequestID(log.Middleware(logger, requestIDFrom)(s.withSecurity(mux)))
	return s
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type requestIDKey struct{}

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// withRequestID reuses a well-formed X-Request-ID or generates one, and
// echoes it back.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !requestIDPattern.MatchString(id) {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// withSecurity sets security headers, rate limits writes and logs the
// outcome of every request.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := extractClientIP(r)
		setSecurityHeaders(w.Header())

		if detectSuspiciousRequest(r, &s.metrics) {
			log.FromContext(ctx).WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if isWrite(r.Method) && !s.rateLimiter.allow(clientIP, &s.metrics) {
			log.FromContext(ctx).WithComponent(log.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			rw.Header().Set("Retry-After", "60")
			writeError(rw, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		} else {
			next.ServeHTTP(rw, r)
		}

		s.events.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady succeeds once the live view holds a snapshot of every feed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.view == nil || !s.view.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
