package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"finledger/internal/core"
	applog "finledger/internal/log"
	"finledger/internal/middleware/ratelimit"
	"finledger/internal/middleware/security"
	"finledger/internal/middleware/trace"
	"finledger/internal/report"
	"finledger/internal/services"
)

// DocumentSubmitter runs one document through the intake pipeline.
type DocumentSubmitter interface {
	Submit(ctx context.Context, doc services.Document) (services.IntakeOutcome, error)
}

// ReportBuilder computes a report from the ledger.
type ReportBuilder interface {
	Build(ctx context.Context, req core.ReportRequest) (*report.Report, error)
}

type Config struct {
	Addr               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	// Location decides what "today" means for period queries.
	Location *time.Location
	Logger   *applog.Logger
}

type Server struct {
	http.Server
	intake    DocumentSubmitter
	reports   ReportBuilder
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	maxUpload int64
	loc       *time.Location
	now       func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config, intake DocumentSubmitter, reports ReportBuilder) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = ratelimit.DefaultConfig().RequestsPerMinute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = cfg.RateLimitPerMinute

	s := &Server{
		intake:    intake,
		reports:   reports,
		limiter:   ratelimit.NewLimiter(limiterCfg),
		detector:  security.NewDetector(),
		maxUpload: cfg.MaxUploadBytes,
		loc:       cfg.Location,
		now:       time.Now,
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		slog.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldClientIP, s.detector.ExtractClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later").Write(w)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("POST /api/documents", limited(http.HandlerFunc(s.handleSubmitDocument)))
	mux.Handle("GET /api/reports", limited(http.HandlerFunc(s.handleReport)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = headers.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = applog.Middleware(cfg.Logger.WithComponent(applog.ComponentHTTP))(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and report rendering stay well under a minute.
		ReadTimeout:  time.Minute,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and the limiter's cleanup
// goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		m := s.tracer.GetMetrics()
		slog.InfoContext(ctx, "HTTP server stopped",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldOperation, applog.OpShutdown,
			"requests", m.TotalRequests,
			"server_errors", m.ServerErrors,
			"rate_limited", s.limiter.Rejected(),
			"suspicious", s.detector.SuspiciousRequests())
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}
