package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/":                              "/",
		"/healthz":                       "/healthz",
		"/api/streams":                   "/api/streams",
		"/api/streams/abc123":            "/api/streams/:id",
		"/api/streams/abc123/join":       "/api/streams/:id/join",
		"/api/streams/abc123/moderators": "/api/streams/:id/moderators",
		"/api/webhooks/ingest":           "/api/webhooks/ingest",
	}
	for path, want := range cases {
		if got := normalizePath(path); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExposition(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/streams/abc/join", 200, 15*time.Millisecond)
	recorder.StreamCreated()
	recorder.ViewerJoined()
	recorder.ViewerJoined()
	recorder.ViewerLeft()
	recorder.BanRecorded()
	recorder.WebhookProcessed("stream.active")
	recorder.WebhookRejected()

	var out strings.Builder
	recorder.Write(&out)
	exposition := out.String()

	expectations := []string{
		`pulsecast_http_requests_total{method="GET",path="/api/streams/:id/join",status="200"} 1`,
		`pulsecast_stream_events_total{event="created"} 1`,
		`pulsecast_stream_events_total{event="viewer_join"} 2`,
		`pulsecast_active_viewers 1`,
		`pulsecast_webhook_events_total{type="stream.active"} 1`,
		`pulsecast_webhook_rejected_total 1`,
		`pulsecast_bans_total 1`,
	}
	for _, want := range expectations {
		if !strings.Contains(exposition, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestViewerGaugeNeverGoesNegative(t *testing.T) {
	recorder := New()
	recorder.ViewerLeft()
	recorder.ViewerLeft()
	if got := recorder.ActiveViewers(); got != 0 {
		t.Fatalf("gauge = %d, want 0", got)
	}
}
