package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pulsecast/internal/api"
	"pulsecast/internal/auth"
	"pulsecast/internal/ingest"
	"pulsecast/internal/moderation"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/presence"
	"pulsecast/internal/store"
	"pulsecast/internal/stream"
	"pulsecast/internal/webhook"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type stubController struct{ creates int }

func (s *stubController) CreateIngest(ctx context.Context) (ingest.Credentials, error) {
	s.creates++
	return ingest.Credentials{
		IngestID:   fmt.Sprintf("ing-%d", s.creates),
		IngestKey:  "key",
		PlaybackID: "play",
	}, nil
}

func (s *stubController) DeleteIngest(ctx context.Context, ingestID string) error { return nil }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	metrics.Reset()
	st := store.NewMemoryStore()
	logger := testLogger()
	sessions := stream.NewManager(st, &stubController{}, logger)
	viewers := presence.NewTracker(st, logger)
	mod := moderation.NewService(st, logger)
	handler := api.NewHandler(sessions, viewers, mod, auth.NewGatewayIdentity(""), st, logger)

	verifier, err := webhook.NewVerifier("hook-secret", 0)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	webhooks := api.NewWebhookHandler(verifier, webhook.NewProcessor(st, viewers, logger))

	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return New(handler, webhooks, cfg)
}

func TestRequestIDReflected(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	if got := recorder.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("X-Request-Id = %q, want req-42", got)
	}

	// Without a gateway-supplied id one is generated.
	recorder = httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatal("a request id must always be assigned")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	expectations := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range expectations {
		if got := recorder.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if recorder.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy must be set")
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1},
	})

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("first request = %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q, want 1", recorder.Header().Get("Retry-After"))
	}
}

func TestPerClientRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{PerClientRPS: 1, PerClientBurst: 1},
	})

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = addr
		recorder := httptest.NewRecorder()
		srv.Handler().ServeHTTP(recorder, req)
		return recorder.Code
	}

	if code := request("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := request("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Fatalf("same client must be limited, got %d", code)
	}
	if code := request("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("other clients must not be limited, got %d", code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	recorder := httptest.NewRecorder()
	recoverMiddleware(testLogger(), panicking).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/streams", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, `"internal error"`) || strings.Contains(body, "boom") {
		t.Fatalf("panic detail must not leak, body %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	// Drive one request through the stack so counters exist.
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "pulsecast_") {
		t.Fatal("exposition must carry pulsecast metrics")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
