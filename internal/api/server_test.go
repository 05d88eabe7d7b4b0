package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelserve/internal/domain"
	"github.com/dunamismax/pixelserve/internal/params"
	"github.com/dunamismax/pixelserve/internal/pipeline"
	"github.com/dunamismax/pixelserve/internal/problem"
	"github.com/dunamismax/pixelserve/internal/ratelimit"
	"github.com/dunamismax/pixelserve/internal/storage"
	"github.com/dunamismax/pixelserve/internal/store"
)

func writePNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

type testServer struct {
	server *Server
	dir    string
	usage  *store.MemoryUsageStore
}

func newTestServer(t *testing.T, fetcher pipeline.Fetcher, opts Options) *testServer {
	t.Helper()

	dir := t.TempDir()
	if fetcher == nil {
		d, err := storage.NewDir(dir)
		require.NoError(t, err)
		fetcher = d
	}

	resolver := params.Resolver{Policy: params.PolicyRequired, MaxDimension: params.DefaultMaxDimension}
	processor, err := pipeline.NewProcessor(fetcher, []domain.Format{domain.FormatPNG, domain.FormatJPEG}, resolver, pipeline.Options{})
	require.NoError(t, err)

	usage := store.NewMemoryUsageStore(16)
	opts.Processor = processor
	if opts.UsageStore == nil {
		opts.UsageStore = usage
	}

	srv, err := NewServer(opts)
	require.NoError(t, err)
	return &testServer{server: srv, dir: dir, usage: usage}
}

func (ts *testServer) get(t *testing.T, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Details {
	t.Helper()

	assert.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	var d problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, rec.Code, d.Status)
	return d
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	rec := ts.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServeImageDefaultsToFirstFormat(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "photos/cat.png", 400, 300)

	rec := ts.get(t, "/photos/cat.png?width=50&height=75", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Accept", rec.Header().Get("Vary"))
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))

	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 75, cfg.Height)
}

func TestServeImageHonorsWeightedAccept(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "cat.png", 64, 64)

	rec := ts.get(t, "/cat.png?width=32&height=16", http.Header{
		"Accept": {"image/jpeg;q=0.5, image/png;q=0.9"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = ts.get(t, "/cat.png?width=32&height=16", http.Header{"Accept": {"image/jpeg"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	_, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)
}

func TestServeImageJoinsRepeatedAcceptHeaders(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "cat.png", 20, 20)

	rec := ts.get(t, "/cat.png?width=10&height=10", http.Header{
		"Accept": {"text/html", "image/jpeg"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestServeImageRecordsUsage(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "cat.png", 40, 40)

	rec := ts.get(t, "/cat.png?width=10&height=20", http.Header{"X-Request-ID": {"req-123"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	logs := ts.usage.Recent(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-123", logs[0].RequestID)
	assert.Equal(t, "cat.png", logs[0].ObjectKey)
	assert.Equal(t, domain.CodecPNG, logs[0].Format)
	assert.Equal(t, 10, logs[0].Width)
	assert.Equal(t, 20, logs[0].Height)
	assert.Equal(t, int64(rec.Body.Len()), logs[0].OutputBytes)
	assert.Positive(t, logs[0].InputBytes)
}

type failingUsageStore struct{}

func (failingUsageStore) CreateUsageLog(context.Context, domain.UsageLog) error {
	return errors.New("usage store down")
}

func TestUsageFailureDoesNotFailRequest(t *testing.T) {
	ts := newTestServer(t, nil, Options{UsageStore: failingUsageStore{}})
	writePNG(t, ts.dir, "cat.png", 10, 10)

	rec := ts.get(t, "/cat.png?width=5&height=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeImageErrors(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		accept       string
		wantStatus   int
		wantInDetail string
	}{
		{
			name:         "missing object",
			target:       "/missing.png?width=10&height=10",
			wantStatus:   http.StatusNotFound,
			wantInDetail: "missing.png",
		},
		{
			name:         "zero width",
			target:       "/cat.png?width=0&height=10",
			wantStatus:   http.StatusBadRequest,
			wantInDetail: "width",
		},
		{
			name:         "missing height",
			target:       "/cat.png?width=10",
			wantStatus:   http.StatusBadRequest,
			wantInDetail: "height",
		},
		{
			name:         "no acceptable format",
			target:       "/cat.png?width=10&height=10",
			accept:       "image/webp",
			wantStatus:   http.StatusUnsupportedMediaType,
			wantInDetail: "image/png, image/jpeg",
		},
		{
			name:       "malformed accept",
			target:     "/cat.png?width=10&height=10",
			accept:     "image/png;q=2",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not an image",
			target:     "/notes.png?width=10&height=10",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "empty key",
			target:     "/?width=10&height=10",
			wantStatus: http.StatusNotFound,
		},
	}

	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "cat.png", 20, 20)
	require.NoError(t, os.WriteFile(filepath.Join(ts.dir, "notes.png"), []byte("not really a png"), 0o644))

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var header http.Header
			if tc.accept != "" {
				header = http.Header{"Accept": {tc.accept}}
			}

			rec := ts.get(t, tc.target, header)
			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "Accept", rec.Header().Get("Vary"))

			d := decodeProblem(t, rec)
			assert.NotEmpty(t, d.Title)
			if tc.wantInDetail != "" {
				assert.Contains(t, d.Detail, tc.wantInDetail)
			}
		})
	}

	assert.Zero(t, ts.usage.Total(), "failed requests are not billed")
}

type transientFetcher struct{}

func (transientFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	return nil, &storage.ObjectError{
		Key:   key,
		Kind:  storage.ErrTransient,
		Cause: errors.New("dial tcp 10.0.0.5:9000: connection refused"),
	}
}

func TestTransientStorageErrorDoesNotLeakCause(t *testing.T) {
	ts := newTestServer(t, transientFetcher{}, Options{})

	rec := ts.get(t, "/cat.png?width=10&height=10", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	decodeProblem(t, rec)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, Options{})
	writePNG(t, ts.dir, "cat.png", 10, 10)

	ts.get(t, "/cat.png?width=5&height=5", nil)
	ts.get(t, "/missing.png?width=5&height=5", nil)

	rec := ts.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pixelserve_transforms_total{format="png",outcome="ok"} 1`)
	assert.Contains(t, body, `pixelserve_transforms_total{format="none",outcome="not_found"} 1`)
	assert.Contains(t, body, `pixelserve_http_requests_total{method="GET",route="/{key}",status="200"} 1`)
	assert.NotContains(t, body, "cat.png")
}

func TestRateLimitRejectsWithProblem(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewRedisTokenBucket(client, 1, time.Minute, "test:api")
	require.NoError(t, err)

	ts := newTestServer(t, nil, Options{RateLimiter: limiter})
	writePNG(t, ts.dir, "cat.png", 10, 10)

	header := http.Header{"X-User-ID": {"alice"}}
	rec := ts.get(t, "/cat.png?width=5&height=5", header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = ts.get(t, "/cat.png?width=5&height=5", header)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	d := decodeProblem(t, rec)
	assert.Equal(t, "Rate limit exceeded", d.Title)

	rec = ts.get(t, "/cat.png?width=5&height=5", http.Header{"X-User-ID": {"bob"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.get(t, "/healthz", header)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not limited")
}

type brokenLimiter struct{}

func (brokenLimiter) AllowN(context.Context, string, int64) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	ts := newTestServer(t, nil, Options{RateLimiter: brokenLimiter{}})
	writePNG(t, ts.dir, "cat.png", 10, 10)

	rec := ts.get(t, "/cat.png?width=5&height=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestCost(t *testing.T) {
	tests := map[string]int64{
		"/a.png":                        1,
		"/a.png?width=10&height=10":     1,
		"/a.png?width=1024&height=1024": 1,
		"/a.png?width=1025&height=1024": 2,
		"/a.png?width=4096&height=4096": 16,
		"/a.png?width=abc&height=10":    1,
	}
	for target, want := range tests {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		assert.Equal(t, want, requestCost(req), target)
	}
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/healthz", routeLabel("/healthz"))
	assert.Equal(t, "/metrics", routeLabel("/metrics"))
	assert.Equal(t, "/{key}", routeLabel("/photos/cat.png"))
	assert.True(t, strings.HasPrefix(routeLabel("/"), "/{"))
}

func TestNewServerRequiresProcessor(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}
