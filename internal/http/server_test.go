package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/digest"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/repository"
	"github.com/fyrsmithlabs/repodigest/internal/source"
	"github.com/fyrsmithlabs/repodigest/internal/telemetry"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []repository.Request
	deadline bool
	err      error
}

func (p *fakeProcessor) Process(ctx context.Context, req repository.Request) (*digest.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	_, p.deadline = ctx.Deadline()
	if p.err != nil {
		return nil, p.err
	}
	records := []digest.FileRecord{{Path: "main.go", Content: "package main", Size: 12, Language: "go"}}
	return digest.Render(req.URL, records, req.Options.OutputFormat)
}

func (p *fakeProcessor) last() repository.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg config.ServerConfig, p Processor) (*Server, *logging.TestLogger, *telemetry.TestTelemetry) {
	t.Helper()
	logger := logging.NewTestLogger()
	tel := telemetry.NewTestTelemetry()
	s, err := NewServer(cfg, Deps{
		Processor: p,
		Logger:    logger.Logger,
		Defaults:  config.Default().Digest.Defaults,
		Meter:     tel.Meter(httpInstrumentationName),
		Gatherer:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return s, logger, tel
}

func post(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestNewServer_RequiresProcessor(t *testing.T) {
	_, err := NewServer(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), &fakeProcessor{})

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleHealth_ReportsTelemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	s, err := NewServer(testConfig(), Deps{Processor: &fakeProcessor{}, Telemetry: tel.Telemetry, Gatherer: prometheus.NewRegistry()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok","telemetry":"healthy"}`, rec.Body.String())
}

func TestHandleDigest_AppliesDefaults(t *testing.T) {
	p := &fakeProcessor{}
	s, _, _ := newTestServer(t, testConfig(), p)

	rec := post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := p.last()
	assert.Equal(t, "https://github.com/acme/widgets", got.URL)
	assert.True(t, got.Options.IncludeTests)
	assert.True(t, got.Options.IncludeDocs)
	assert.True(t, got.Options.SmartFilter)
	assert.Equal(t, int64(51200), got.Options.MaxFileSize)
	assert.Equal(t, "markdown", got.Options.OutputFormat)
	assert.False(t, got.Options.RedactSecrets)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://github.com/acme/widgets", body["repository"])
	assert.Contains(t, body["content"], "# Repository: https://github.com/acme/widgets")
}

func TestHandleDigest_ExplicitOptions(t *testing.T) {
	p := &fakeProcessor{}
	s, _, _ := newTestServer(t, testConfig(), p)

	rec := post(s, "/api/v1/digest", `{
		"url": "https://github.com/acme/widgets",
		"options": {"includeTests": false, "includeDocs": false, "smartFilter": false,
		            "maxFileSize": 100000, "outputFormat": "json", "redactSecrets": true}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := p.last().Options
	assert.False(t, got.IncludeTests)
	assert.False(t, got.IncludeDocs)
	assert.False(t, got.SmartFilter)
	assert.Equal(t, int64(100000), got.MaxFileSize)
	assert.Equal(t, "json", got.OutputFormat)
	assert.True(t, got.RedactSecrets)

	assert.True(t, strings.HasPrefix(rec.Body.String(), `{"repository":"https://github.com/acme/widgets","stats":{`))
	assert.Contains(t, rec.Body.String(), `"files":[{"path":"main.go"`)
}

func TestHandleDigest_LegacyPath(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), &fakeProcessor{})

	rec := post(s, "/api/process-repo", `{"url":"https://github.com/acme/widgets","options":{"outputFormat":"text"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"=== main.go ===\npackage main\n\n"`)
}

func TestHandleDigest_Credential(t *testing.T) {
	p := &fakeProcessor{}
	s, logger, _ := newTestServer(t, testConfig(), p)

	rec := post(s, "/api/v1/digest", `{"url":"https://github.com/acme/private","credential":"tok-987","private":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := p.last()
	assert.True(t, got.Private)
	assert.Equal(t, "tok-987", got.Credential.Value())
	logger.AssertNotContains(t, "tok-987")
}

func TestHandleDigest_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"invalid url", fmt.Errorf("%w: %w", repository.ErrInvalidRequest, source.ErrInvalidSource), http.StatusBadRequest, "invalid repository URL"},
		{"invalid options", fmt.Errorf("%w: bad format", repository.ErrInvalidRequest), http.StatusBadRequest, "invalid request options"},
		{"fetch", fmt.Errorf("%w: remote says no at 10.0.0.1", source.ErrFetch), http.StatusInternalServerError, "failed to fetch repository"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "processing failed"},
		{"timeout", context.DeadlineExceeded, http.StatusInternalServerError, "processing failed"},
		{"timeout during clone", fmt.Errorf("%w: %w", source.ErrFetch, context.DeadlineExceeded), http.StatusInternalServerError, "processing failed"},
		{"cancelled during clone", fmt.Errorf("%w: %w", source.ErrFetch, context.Canceled), http.StatusInternalServerError, "processing failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, testConfig(), &fakeProcessor{err: tt.err})

			rec := post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, errorBody(t, rec))
		})
	}
}

func TestHandleDigest_InvalidBody(t *testing.T) {
	p := &fakeProcessor{}
	s, _, _ := newTestServer(t, testConfig(), p)

	rec := post(s, "/api/v1/digest", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", errorBody(t, rec))
	assert.Empty(t, p.requests)
}

func TestHandleDigest_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimit = "1K"
	s, _, _ := newTestServer(t, cfg, &fakeProcessor{})

	body := `{"url":"https://github.com/acme/widgets","pad":"` + strings.Repeat("x", 2048) + `"}`
	rec := post(s, "/api/v1/digest", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleDigest_RequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = config.Duration(time.Minute)
	p := &fakeProcessor{}
	s, _, _ := newTestServer(t, cfg, p)

	post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)
	assert.True(t, p.deadline)

	cfg.RequestTimeout = 0
	s, _, _ = newTestServer(t, cfg, p)
	post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)
	assert.False(t, p.deadline)
}

func postFrom(s *Server, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/digest", strings.NewReader(`{"url":"https://github.com/acme/widgets"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	s, logger, _ := newTestServer(t, cfg, &fakeProcessor{})

	for i := 0; i < 2; i++ {
		rec := postFrom(s, "192.0.2.1:1234", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := postFrom(s, "192.0.2.1:1234", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", errorBody(t, rec))
	assert.Equal(t, 1, logger.FilterMessage("rate limit exceeded").Len())

	// Another peer has its own bucket.
	rec = postFrom(s, "198.51.100.7:4321", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health is never limited.
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_IgnoresForwardingHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	s, _, _ := newTestServer(t, cfg, &fakeProcessor{})

	allowed := 0
	for i := range 20 {
		rec := postFrom(s, "192.0.2.1:1234", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
		})
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	s, _, _ := newTestServer(t, cfg, &fakeProcessor{})

	// Behind the proxy, each forwarded client gets its own bucket.
	assert.Equal(t, http.StatusOK, postFrom(s, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)
	assert.Equal(t, http.StatusOK, postFrom(s, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "203.0.113.2"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, postFrom(s, "10.1.2.3:80", map[string]string{"X-Forwarded-For": "203.0.113.1"}).Code)

	// An untrusted peer cannot pick its identity.
	assert.Equal(t, http.StatusOK, postFrom(s, "192.0.2.9:80", map[string]string{"X-Forwarded-For": "203.0.113.3"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, postFrom(s, "192.0.2.9:80", map[string]string{"X-Forwarded-For": "203.0.113.4"}).Code)
}

func TestNewServer_InvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-a-cidr"}
	_, err := NewServer(cfg, Deps{Processor: &fakeProcessor{}})
	assert.ErrorContains(t, err, "invalid trusted proxy")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "repodigest_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := NewServer(testConfig(), Deps{Processor: &fakeProcessor{}, Gatherer: reg})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "repodigest_test_total 1")
}

func TestHTTPMetrics_Recorded(t *testing.T) {
	s, _, tel := newTestServer(t, testConfig(), &fakeProcessor{err: errors.New("boom")})

	post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)

	var rm metricdata.ResourceMetrics
	require.NoError(t, tel.MetricReader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "repodigest.http.requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			dp := sum.DataPoints[0]
			assert.Equal(t, int64(1), dp.Value)
			status, _ := dp.Attributes.Value("status")
			assert.Equal(t, int64(http.StatusInternalServerError), status.AsInt64())
			route, _ := dp.Attributes.Value("route")
			assert.Equal(t, "/api/v1/digest", route.AsString())
			found = true
		}
	}
	assert.True(t, found, "requests_total not recorded")
}

func TestRequestLogging(t *testing.T) {
	s, logger, _ := newTestServer(t, testConfig(), &fakeProcessor{})

	post(s, "/api/v1/digest", `{"url":"https://github.com/acme/widgets"}`)

	entries := logger.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/v1/digest", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.NotEmpty(t, fields["request.id"])
}

func TestRoute_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t, testConfig(), &fakeProcessor{})

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", errorBody(t, rec))
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s, _, _ := newTestServer(t, cfg, &fakeProcessor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
