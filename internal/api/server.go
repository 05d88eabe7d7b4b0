package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/id"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/problem"
	"github.com/dunamismax/pixelserve/internal/store"
)

const (
	requestIDHeader = "X-Request-ID"
	usageTimeout    = 2 * time.Second
)

type ImageProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Formats() []domain.Format
}

type Options struct {
	Logger      *zap.Logger
	Processor   ImageProcessor
	UsageStore  store.UsageStore
	RateLimiter RateLimiter
	// RateLimitUserIDHeader names the header that identifies the caller for
	// rate limiting. Requests without it are keyed by client address.
	RateLimitUserIDHeader string
	Tracer                trace.Tracer
}

type Server struct {
	logger                *zap.Logger
	processor             ImageProcessor
	formats               []domain.Format
	usageStore            store.UsageStore
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *metrics
	mux                   *http.ServeMux
	handler               http.Handler
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("image processor is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pixelserve/api")
	}
	if strings.TrimSpace(opts.RateLimitUserIDHeader) == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                opts.Logger,
		processor:             opts.Processor,
		formats:               opts.Processor.Formats(),
		usageStore:            opts.UsageStore,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		tracer:                opts.Tracer,
		metrics:               newMetrics(),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withRequestID(s.withTracing(s.metrics.withHTTPMetrics(s.mux)))
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.Handle("GET /{key...}", s.withRateLimit(http.HandlerFunc(s.handleImage)))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := requestIDFromContext(r.Context())
	key := r.PathValue("key")

	// Responses differ by Accept even when they fail.
	w.Header().Set("Vary", "Accept")

	result, err := s.processor.Process(r.Context(), pipeline.Request{
		Key:    key,
		Accept: strings.Join(r.Header.Values("Accept"), ", "),
		Query:  r.URL.Query(),
	})
	if err != nil {
		s.metrics.transforms.WithLabelValues("none", outcomeLabel(err)).Inc()
		s.writeProblem(w, requestID, key, err)
		return
	}

	out := result.Output
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Bytes)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes); err != nil {
		s.logger.Debug("write image body failed",
			zap.String("request_id", requestID),
			zap.String("key", key),
			zap.Error(err),
		)
	}

	elapsed := time.Since(start)
	s.metrics.transforms.WithLabelValues(string(result.Format.Codec), outcomeOK).Inc()
	s.metrics.encodedBytes.WithLabelValues(string(result.Format.Codec)).Observe(float64(len(out.Bytes)))

	s.logger.Info("image served",
		zap.String("request_id", requestID),
		zap.String("key", key),
		zap.String("format", out.ContentType),
		zap.Stringer("size", result.Dimensions),
		zap.Int("source_bytes", result.SourceBytes),
		zap.Int("output_bytes", len(out.Bytes)),
		zap.Duration("elapsed", elapsed),
	)

	s.recordUsage(r.Context(), domain.UsageLog{
		RequestID:     requestID,
		ObjectKey:     key,
		Format:        result.Format.Codec,
		Width:         out.Width,
		Height:        out.Height,
		InputBytes:    int64(result.SourceBytes),
		OutputBytes:   int64(len(out.Bytes)),
		ComputeTimeMS: elapsed.Milliseconds(),
		CreatedAt:     start.UTC(),
	})
}

// writeProblem logs the failure once and sends its problem details.
func (s *Server) writeProblem(w http.ResponseWriter, requestID, key string, err error) {
	details := problem.Map(err, s.formats)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("key", key),
		zap.Int("status", details.Status),
		zap.Error(err),
	}
	if details.Status >= http.StatusInternalServerError {
		s.logger.Error("image request failed", fields...)
	} else {
		s.logger.Warn("image request rejected", fields...)
	}

	if werr := problem.Write(w, details); werr != nil {
		s.logger.Debug("write problem response failed", zap.String("request_id", requestID), zap.Error(werr))
	}
}

func (s *Server) recordUsage(ctx context.Context, entry domain.UsageLog) {
	if s.usageStore == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
	defer cancel()

	if err := s.usageStore.CreateUsageLog(ctx, entry); err != nil {
		s.logger.Warn("record usage failed",
			zap.String("request_id", entry.RequestID),
			zap.String("key", entry.ObjectKey),
			zap.Error(err),
		)
	}
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := id.FromHeader(r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
