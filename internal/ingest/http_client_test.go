package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"pulsecast/internal/ingest"
	"pulsecast/internal/testsupport/ingeststub"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

func newController(t *testing.T, platform *ingeststub.Platform, token string) *ingest.HTTPController {
	t.Helper()
	controller, err := ingest.NewHTTPController(ingest.HTTPControllerConfig{
		BaseURL:       platform.URL(),
		Token:         token,
		Logger:        testLogger(),
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPController: %v", err)
	}
	return controller
}

func TestCreateIngest(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{
		IngestID:   "ing-abc",
		IngestKey:  "key-abc",
		PlaybackID: "play-abc",
	})
	defer platform.Close()
	controller := newController(t, platform, "")

	credentials, err := controller.CreateIngest(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if credentials.IngestID != "ing-abc" || credentials.IngestKey != "key-abc" || credentials.PlaybackID != "play-abc" {
		t.Fatalf("credentials = %+v", credentials)
	}
	if platform.CreateCount() != 1 {
		t.Fatalf("create requests = %d, want 1", platform.CreateCount())
	}
}

func TestCreateIngestRetriesTransientFailures(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{FailCreates: 2})
	defer platform.Close()
	controller := newController(t, platform, "")

	credentials, err := controller.CreateIngest(context.Background())
	if err != nil {
		t.Fatalf("create should succeed after retries: %v", err)
	}
	if credentials.IngestID == "" {
		t.Fatal("credentials missing after retried create")
	}
	if platform.CreateCount() != 3 {
		t.Fatalf("create requests = %d, want 3", platform.CreateCount())
	}
}

func TestCreateIngestExhaustsRetries(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{FailCreates: 10})
	defer platform.Close()
	controller := newController(t, platform, "")

	_, err := controller.CreateIngest(context.Background())
	if !errors.Is(err, ingest.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if platform.CreateCount() != 3 {
		t.Fatalf("create requests = %d, want 3 attempts", platform.CreateCount())
	}
}

func TestCreateIngestSendsBearerToken(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{Token: "platform-token"})
	defer platform.Close()

	authed := newController(t, platform, "platform-token")
	if _, err := authed.CreateIngest(context.Background()); err != nil {
		t.Fatalf("authenticated create: %v", err)
	}

	unauthed := newController(t, platform, "wrong-token")
	if _, err := unauthed.CreateIngest(context.Background()); !errors.Is(err, ingest.ErrUnavailable) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestDeleteIngest(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{})
	defer platform.Close()
	controller := newController(t, platform, "")

	if err := controller.DeleteIngest(context.Background(), "ing-abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	operations := platform.Operations()
	if len(operations) != 1 || operations[0].Kind != "delete" || operations[0].IngestID != "ing-abc" {
		t.Fatalf("operations = %+v", operations)
	}

	// A blank ingest reference is a no-op rather than a request.
	if err := controller.DeleteIngest(context.Background(), "  "); err != nil {
		t.Fatalf("blank delete: %v", err)
	}
	if platform.DeleteCount() != 1 {
		t.Fatalf("delete requests = %d, want 1", platform.DeleteCount())
	}
}

func TestDeleteIngestRetries(t *testing.T) {
	platform := ingeststub.New(ingeststub.Options{FailDeletes: 1})
	defer platform.Close()
	controller := newController(t, platform, "")

	if err := controller.DeleteIngest(context.Background(), "ing-abc"); err != nil {
		t.Fatalf("delete should succeed after retry: %v", err)
	}
	if platform.DeleteCount() != 2 {
		t.Fatalf("delete requests = %d, want 2", platform.DeleteCount())
	}
}

func TestNewHTTPControllerRequiresBaseURL(t *testing.T) {
	if _, err := ingest.NewHTTPController(ingest.HTTPControllerConfig{}); err == nil {
		t.Fatal("blank base URL must be rejected")
	}
}
