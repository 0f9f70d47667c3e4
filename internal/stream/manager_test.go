package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/ingest"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

type fakeController struct {
	creates   int
	deletes   []string
	failWith  error
	nextID    int
	createErr error
}

func (f *fakeController) CreateIngest(ctx context.Context) (ingest.Credentials, error) {
	f.creates++
	if f.createErr != nil {
		return ingest.Credentials{}, f.createErr
	}
	f.nextID++
	return ingest.Credentials{
		IngestID:   "ing-" + string(rune('a'+f.nextID)),
		IngestKey:  "key",
		PlaybackID: "play",
	}, nil
}

func (f *fakeController) DeleteIngest(ctx context.Context, ingestID string) error {
	f.deletes = append(f.deletes, ingestID)
	return f.failWith
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func seedRoom(t *testing.T, st store.Store, roomID, ownerID string, moderatorIDs ...string) {
	t.Helper()
	if err := st.PutRoom(context.Background(), models.Room{
		ID:           roomID,
		OwnerID:      ownerID,
		ModeratorIDs: moderatorIDs,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *fakeController) {
	t.Helper()
	st := store.NewMemoryStore()
	controller := &fakeController{}
	manager := NewManager(st, controller, testLogger())
	seedRoom(t, st, "room-1", "owner-1", "helper-1")
	return manager, st, controller
}

func TestCreateSession(t *testing.T) {
	manager, st, controller := newTestManager(t)
	ctx := context.Background()

	session, err := manager.Create(ctx, CreateParams{
		CallerID: "owner-1",
		RoomID:   "room-1",
		Title:    "launch day",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Status != models.StatusIdle {
		t.Fatalf("new session status = %q, want idle", session.Status)
	}
	if session.IngestKey == "" || session.IngestID == "" {
		t.Fatal("create must return ingest credentials")
	}
	if controller.creates != 1 {
		t.Fatalf("platform creates = %d, want 1", controller.creates)
	}

	stored, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("stored session: %v", err)
	}
	if stored.ViewerCount != 0 || stored.PeakViewerCount != 0 || stored.TotalViews != 0 {
		t.Fatal("new session counters must start at zero")
	}
}

func TestCreateAllowsRoomModerator(t *testing.T) {
	manager, _, _ := newTestManager(t)
	if _, err := manager.Create(context.Background(), CreateParams{
		CallerID: "helper-1", RoomID: "room-1", Title: "moderated show",
	}); err != nil {
		t.Fatalf("room moderator should be allowed to broadcast: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	manager, _, controller := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"empty title", CreateParams{CallerID: "owner-1", RoomID: "room-1"}},
		{"long title", CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: strings.Repeat("x", 101)}},
		{"long description", CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: "ok", Description: strings.Repeat("x", 501)}},
		{"missing room", CreateParams{CallerID: "owner-1", Title: "ok"}},
	}
	for _, tc := range cases {
		if _, err := manager.Create(ctx, tc.params); !fault.IsKind(err, fault.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if controller.creates != 0 {
		t.Fatalf("validation failures must not touch the platform, creates = %d", controller.creates)
	}

	if _, err := manager.Create(ctx, CreateParams{CallerID: "stranger", RoomID: "room-1", Title: "ok"}); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("non-member broadcast should be unauthorized, got %v", err)
	}
	if _, err := manager.Create(ctx, CreateParams{CallerID: "owner-1", RoomID: "room-x", Title: "ok"}); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("unknown room should be not found, got %v", err)
	}
}

func TestCreatePlatformFailureWritesNothing(t *testing.T) {
	manager, st, controller := newTestManager(t)
	controller.createErr = errors.New("platform down")

	_, err := manager.Create(context.Background(), CreateParams{
		CallerID: "owner-1", RoomID: "room-1", Title: "doomed",
	})
	if !fault.IsKind(err, fault.KindInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	sessions, _, listErr := st.ListSessions(context.Background(), store.SessionFilter{Limit: 10})
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(sessions) != 0 {
		t.Fatal("failed create must leave no session behind")
	}
}

func activateSession(t *testing.T, st store.Store, streamID string) {
	t.Helper()
	active := models.StatusActive
	now := time.Now().UTC()
	if _, swapped, err := st.UpdateSessionIfStatus(context.Background(), streamID, models.StatusIdle, store.SessionUpdate{
		Status: &active, StartedAt: &now,
	}); err != nil || !swapped {
		t.Fatalf("activate session: swapped=%v err=%v", swapped, err)
	}
}

func TestEndSession(t *testing.T) {
	manager, st, _ := newTestManager(t)
	ctx := context.Background()
	session, err := manager.Create(ctx, CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: "show"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Ending an idle session is a conflict.
	if _, err := manager.End(ctx, "owner-1", session.ID); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("end while idle should conflict, got %v", err)
	}

	activateSession(t, st, session.ID)
	if _, err := st.AddSessionCounters(ctx, session.ID, 3, 3); err != nil {
		t.Fatalf("seed counters: %v", err)
	}

	if _, err := manager.End(ctx, "someone-else", session.ID); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("non-owner end should be unauthorized, got %v", err)
	}

	ended, err := manager.End(ctx, "owner-1", session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != models.StatusIdle {
		t.Fatalf("ended status = %q, want idle", ended.Status)
	}
	if ended.ViewerCount != 0 {
		t.Fatalf("viewerCount after end = %d, want 0", ended.ViewerCount)
	}
	if ended.EndedAt == nil {
		t.Fatal("end must stamp endedAt")
	}

	if _, err := manager.End(ctx, "owner-1", session.ID); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("double end should conflict, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	manager, st, controller := newTestManager(t)
	ctx := context.Background()
	session, err := manager.Create(ctx, CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: "show"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := manager.Delete(ctx, "someone-else", session.ID); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("non-owner delete should be unauthorized, got %v", err)
	}

	activateSession(t, st, session.ID)
	if _, err := manager.Delete(ctx, "owner-1", session.ID); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("delete while live should conflict, got %v", err)
	}

	if _, err := manager.End(ctx, "owner-1", session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	deleted, err := manager.Delete(ctx, "owner-1", session.ID)
	if err != nil {
		t.Fatalf("delete after end: %v", err)
	}
	if deleted.Status != models.StatusDisabled || !deleted.IsDeleted {
		t.Fatalf("deleted session = status %q isDeleted %v", deleted.Status, deleted.IsDeleted)
	}
	if deleted.PurgeAfter == nil {
		t.Fatal("delete must schedule retention purging")
	}
	if len(controller.deletes) != 1 || controller.deletes[0] != session.IngestID {
		t.Fatalf("platform teardown calls = %v", controller.deletes)
	}

	if _, err := manager.Delete(ctx, "owner-1", session.ID); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("second delete should conflict, got %v", err)
	}
	if _, err := manager.Get(ctx, session.ID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("deleted session should read as absent, got %v", err)
	}
}

func TestDeleteSurvivesPlatformTeardownFailure(t *testing.T) {
	manager, _, controller := newTestManager(t)
	ctx := context.Background()
	session, err := manager.Create(ctx, CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: "show"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	controller.failWith = errors.New("platform down")
	deleted, err := manager.Delete(ctx, "owner-1", session.ID)
	if err != nil {
		t.Fatalf("delete must succeed despite teardown failure: %v", err)
	}
	if !deleted.IsDeleted {
		t.Fatal("session must be marked deleted")
	}
}

func TestPurgeExpired(t *testing.T) {
	clock := time.Now().UTC()
	st := store.NewMemoryStore()
	controller := &fakeController{}
	manager := NewManager(st, controller, testLogger(),
		WithDeletedRetention(time.Hour),
		WithClock(func() time.Time { return clock }))
	seedRoom(t, st, "room-1", "owner-1")
	ctx := context.Background()

	session, err := manager.Create(ctx, CreateParams{CallerID: "owner-1", RoomID: "room-1", Title: "show"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.PutPresenceIfAbsent(ctx, models.ViewerPresence{
		StreamID: session.ID, AccountID: "viewer-1", JoinedAt: clock, LastPingAt: clock,
	}); err != nil {
		t.Fatalf("seed presence: %v", err)
	}
	if err := st.PutModeratorIfAbsent(ctx, models.ModeratorAssignment{
		StreamID: session.ID, AccountID: "mod-1", AssignedBy: "owner-1", AssignedAt: clock,
	}); err != nil {
		t.Fatalf("seed moderator: %v", err)
	}
	if _, err := manager.Delete(ctx, "owner-1", session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Within the retention window nothing is purged.
	purged, err := manager.PurgeExpired(ctx, 10)
	if err != nil || purged != 0 {
		t.Fatalf("early purge = %d, %v", purged, err)
	}

	clock = clock.Add(2 * time.Hour)
	purged, err = manager.PurgeExpired(ctx, 10)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, err := st.GetSession(ctx, session.ID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatal("purged session must be physically gone")
	}
	if _, err := st.GetPresence(ctx, session.ID, "viewer-1"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatal("purge must remove presence rows")
	}
	if isMod, _ := st.IsModerator(ctx, session.ID, "mod-1"); isMod {
		t.Fatal("purge must remove moderator assignments")
	}
}
