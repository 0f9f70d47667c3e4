package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pulsecast/internal/auth"
	"pulsecast/internal/ingest"
	"pulsecast/internal/models"
	"pulsecast/internal/moderation"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/presence"
	"pulsecast/internal/store"
	"pulsecast/internal/stream"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type stubController struct {
	creates int
}

func (s *stubController) CreateIngest(ctx context.Context) (ingest.Credentials, error) {
	s.creates++
	return ingest.Credentials{
		IngestID:   fmt.Sprintf("ing-%d", s.creates),
		IngestKey:  fmt.Sprintf("key-%d", s.creates),
		PlaybackID: fmt.Sprintf("play-%d", s.creates),
	}, nil
}

func (s *stubController) DeleteIngest(ctx context.Context, ingestID string) error { return nil }

type testAPI struct {
	store   *store.MemoryStore
	handler *Handler
	mux     *http.ServeMux
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	metrics.Reset()
	st := store.NewMemoryStore()
	logger := testLogger()
	sessions := stream.NewManager(st, &stubController{}, logger)
	viewers := presence.NewTracker(st, logger)
	mod := moderation.NewService(st, logger)
	handler := NewHandler(sessions, viewers, mod, auth.NewGatewayIdentity(""), st, logger)

	if err := st.PutRoom(context.Background(), models.Room{
		ID:        "room-1",
		OwnerID:   "owner-1",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed room: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", handler.Streams)
	mux.HandleFunc("/api/streams/", handler.StreamByID)
	mux.HandleFunc("/healthz", handler.Health)
	return &testAPI{store: st, handler: handler, mux: mux}
}

func (a *testAPI) do(t *testing.T, method, path, account, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set(auth.AccountHeader, account)
	}
	recorder := httptest.NewRecorder()
	a.mux.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func (a *testAPI) createStream(t *testing.T, account string) map[string]interface{} {
	t.Helper()
	recorder := a.do(t, http.MethodPost, "/api/streams", account, `{"roomId":"room-1","title":"show"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]interface{}
	decodeBody(t, recorder, &payload)
	return payload
}

func (a *testAPI) activate(t *testing.T, streamID string) {
	t.Helper()
	active := models.StatusActive
	now := time.Now().UTC()
	if _, swapped, err := a.store.UpdateSessionIfStatus(context.Background(), streamID, models.StatusIdle, store.SessionUpdate{
		Status: &active, StartedAt: &now,
	}); err != nil || !swapped {
		t.Fatalf("activate: swapped=%v err=%v", swapped, err)
	}
}

func TestCreateStreamEndpoint(t *testing.T) {
	api := newTestAPI(t)

	payload := api.createStream(t, "owner-1")
	if payload["status"] != "idle" {
		t.Fatalf("status = %v, want idle", payload["status"])
	}
	if payload["ingestKey"] == nil || payload["ingestKey"] == "" {
		t.Fatal("create response must include the ingest key")
	}

	// Reads never expose the broadcast secret again.
	recorder := api.do(t, http.MethodGet, "/api/streams/"+payload["id"].(string), "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status = %d", recorder.Code)
	}
	var fetched map[string]interface{}
	decodeBody(t, recorder, &fetched)
	if _, exposed := fetched["ingestKey"]; exposed {
		t.Fatal("get response must not carry the ingest key")
	}
}

func TestCreateStreamRequiresIdentity(t *testing.T) {
	api := newTestAPI(t)
	recorder := api.do(t, http.MethodPost, "/api/streams", "", `{"roomId":"room-1","title":"show"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["kind"] != "unauthorized" {
		t.Fatalf("kind = %q", payload["kind"])
	}
}

func TestCreateStreamRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	recorder := api.do(t, http.MethodPost, "/api/streams", "owner-1", `{"roomId":"room-1","title":"show","bogus":1}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestListStreamsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		api.createStream(t, "owner-1")
	}

	recorder := api.do(t, http.MethodGet, "/api/streams?roomId=room-1&status=idle", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	decodeBody(t, recorder, &payload)
	if len(payload.Sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(payload.Sessions))
	}

	recorder = api.do(t, http.MethodGet, "/api/streams?status=bogus", "", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown status filter should 400, got %d", recorder.Code)
	}
}

func TestStreamLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t)
	created := api.createStream(t, "owner-1")
	streamID := created["id"].(string)

	// Ending before the broadcast starts is a conflict.
	recorder := api.do(t, http.MethodPost, "/api/streams/"+streamID+"/end", "owner-1", "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("end while idle = %d, want 409", recorder.Code)
	}

	api.activate(t, streamID)
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/end", "intruder", "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("end by stranger = %d, want 403", recorder.Code)
	}
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/end", "owner-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("end = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = api.do(t, http.MethodDelete, "/api/streams/"+streamID, "owner-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete = %d, body %s", recorder.Code, recorder.Body.String())
	}
	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID, "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", recorder.Code)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	api := newTestAPI(t)
	created := api.createStream(t, "owner-1")
	streamID := created["id"].(string)
	api.activate(t, streamID)

	recorder := api.do(t, http.MethodPost, "/api/streams/"+streamID+"/join", "viewer-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("join = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var session map[string]interface{}
	decodeBody(t, recorder, &session)
	if session["viewerCount"] != float64(1) {
		t.Fatalf("viewerCount = %v, want 1", session["viewerCount"])
	}

	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/ping", "viewer-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("ping = %d", recorder.Code)
	}
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/leave", "viewer-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("leave = %d", recorder.Code)
	}
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/ping", "viewer-1", "")
	if recorder.Code != http.StatusConflict {
		t.Fatalf("ping after leave = %d, want 409", recorder.Code)
	}

	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID+"/join", "viewer-1", "")
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET join = %d, want 405", recorder.Code)
	}
	if allow := recorder.Header().Get("Allow"); allow != "POST" {
		t.Fatalf("Allow = %q, want POST", allow)
	}
}

func TestModerationEndpoints(t *testing.T) {
	api := newTestAPI(t)
	created := api.createStream(t, "owner-1")
	streamID := created["id"].(string)

	recorder := api.do(t, http.MethodPost, "/api/streams/"+streamID+"/moderators", "owner-1", `{"accountId":"mod-1"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("add moderator = %d, body %s", recorder.Code, recorder.Body.String())
	}
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/moderators", "mod-1", `{"accountId":"mod-2"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("non-owner add moderator = %d, want 403", recorder.Code)
	}

	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID+"/moderators", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list moderators = %d", recorder.Code)
	}
	var moderators []map[string]interface{}
	decodeBody(t, recorder, &moderators)
	if len(moderators) != 1 || moderators[0]["accountId"] != "mod-1" {
		t.Fatalf("moderators = %+v", moderators)
	}

	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/ban", "mod-1", `{"accountId":"troll-1","reason":"spam"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("ban = %d, body %s", recorder.Code, recorder.Body.String())
	}
	recorder = api.do(t, http.MethodPost, "/api/streams/"+streamID+"/ban", "viewer-9", `{"accountId":"troll-2"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("viewer ban = %d, want 403", recorder.Code)
	}

	// The audit log is not public.
	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID+"/moderation-log", "", "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("anonymous log read = %d, want 403", recorder.Code)
	}
	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID+"/moderation-log", "owner-1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("log read = %d", recorder.Code)
	}
	var entries []map[string]interface{}
	decodeBody(t, recorder, &entries)
	if len(entries) != 1 || entries[0]["targetId"] != "troll-1" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestUnknownSubResource(t *testing.T) {
	api := newTestAPI(t)
	created := api.createStream(t, "owner-1")
	streamID := created["id"].(string)

	recorder := api.do(t, http.MethodGet, "/api/streams/"+streamID+"/nonsense", "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
	recorder = api.do(t, http.MethodGet, "/api/streams/"+streamID+"/a/b", "", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("deep path = %d, want 404", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)
	recorder := api.do(t, http.MethodGet, "/healthz", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("health = %d", recorder.Code)
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("status = %q", payload["status"])
	}
}
