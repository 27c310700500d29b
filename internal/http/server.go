package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/log"
	"smartpocket/internal/middleware/ratelimit"
	"smartpocket/internal/middleware/security"
	"smartpocket/internal/middleware/trace"

	"github.com/shopspring/decimal"
)

// SessionService is the presentation-facing surface of the session controller.
type SessionService interface {
	Login(ctx context.Context, username string) (core.BudgetSession, error)
	Logout(ctx context.Context, username string) error
	Session(username string) (core.BudgetSession, error)
	StartBudget(ctx context.Context, username string, totalBudget decimal.Decimal, totalDays int) (core.BudgetSession, error)
	RecordExpense(ctx context.Context, username string, amount decimal.Decimal, description string) (core.BudgetSession, error)
	SubmitMessage(ctx context.Context, username, text string) (core.BudgetSession, string, error)
	ResetBudgetAndChat(ctx context.Context, username string) (core.BudgetSession, error)
	ClearSessionEntirely(ctx context.Context, username string) error
	ActiveSessions() int
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Options tune the server. Zero values select defaults.
type Options struct {
	Currency          string
	RequestsPerMinute int
	Checks            map[string]ReadinessCheck
	Logger            *log.Logger
	// TrustedProxies lists extra CIDRs whose forwarded headers are honored.
	TrustedProxies []string
}

type Server struct {
	http.Server
	sessions SessionService
	currency string
	checks   map[string]ReadinessCheck
	logger   *log.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	expenses     int64
	chatMessages int64
	warnings     int64
	uptime       time.Time
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, sessions SessionService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	currency := opts.Currency
	if currency == "" {
		currency = core.DefaultCurrency
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s := &Server{
		sessions:         sessions,
		currency:         currency,
		checks:           opts.Checks,
		logger:           logger.WithComponent(log.ComponentHTTP),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("POST /api/login", s.limited(s.handleLogin))
	mux.Handle("POST /api/users/{username}/logout", s.limited(s.handleLogout))
	mux.HandleFunc("GET /api/users/{username}/session", s.handleSession)
	mux.Handle("POST /api/users/{username}/budget", s.limited(s.handleStartBudget))
	mux.Handle("POST /api/users/{username}/expenses", s.limited(s.handleRecordExpense))
	mux.Handle("POST /api/users/{username}/chat", s.limited(s.handleChat))
	mux.Handle("POST /api/users/{username}/reset", s.limited(s.handleReset))
	mux.Handle("DELETE /api/users/{username}", s.limited(s.handleClear))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = s.withSuspiciousRequestLogging(handler)
	handler = headers.Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = log.Middleware(s.logger)(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// limited applies the per-client rate limit to mutating routes.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		reqLogger(r).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").
			Header("Retry-After", "60").
			Write(w)
	})(h)
}

// withSuspiciousRequestLogging flags scanner-like requests without blocking them.
func (s *Server) withSuspiciousRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.DetectSuspiciousRequest(r) {
			reqLogger(r).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request detected",
				log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) countWarning() {
	atomic.AddInt64(&s.appMetrics.warnings, 1)
}
