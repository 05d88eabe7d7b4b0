package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/problem"
	"github.com/dunamismax/pixelserve/internal/ratelimit"
)

// pixelsPerToken is the output area one rate limit token pays for.
const pixelsPerToken = 1 << 20

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// withRateLimit charges image requests by requested output area. Limiter
// failures let the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := s.rateLimitSubject(r) + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r))
		if err != nil {
			s.logger.Warn("rate limiter check failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		s.writeProblem(w, requestIDFromContext(r.Context()), r.PathValue("key"), problem.ErrRateLimited)
	})
}

func (s *Server) rateLimitSubject(r *http.Request) string {
	if subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)); subject != "" {
		return subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "anonymous"
	}
	return host
}

// requestCost is one token per started megapixel of requested output. Bad or
// absent dimensions cost one token; the pipeline rejects them later.
func requestCost(r *http.Request) int64 {
	query := r.URL.Query()
	w, werr := strconv.ParseUint(query.Get(params.Width), 10, 32)
	h, herr := strconv.ParseUint(query.Get(params.Height), 10, 32)
	if werr != nil || herr != nil || w == 0 || h == 0 {
		return 1
	}
	return int64((w*h + pixelsPerToken - 1) / pixelsPerToken)
}
