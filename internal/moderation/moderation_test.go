package moderation

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

func newTestService(t *testing.T, opts ...Option) (*Service, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	if err := st.PutSessionIfAbsent(context.Background(), models.LiveStreamSession{
		ID:        "s1",
		OwnerID:   "owner-1",
		RoomID:    "room-1",
		Title:     "show",
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return NewService(st, testLogger(), opts...), st
}

func TestAddModerator(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	assignment, err := svc.AddModerator(ctx, "owner-1", "s1", "mod-1")
	if err != nil {
		t.Fatalf("add moderator: %v", err)
	}
	if assignment.AssignedBy != "owner-1" || assignment.AccountID != "mod-1" {
		t.Fatalf("assignment = %+v", assignment)
	}
	if isMod, err := st.IsModerator(ctx, "s1", "mod-1"); err != nil || !isMod {
		t.Fatalf("IsModerator = %v, %v", isMod, err)
	}

	if _, err := svc.AddModerator(ctx, "owner-1", "s1", "mod-1"); !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("duplicate assignment should conflict, got %v", err)
	}
	if _, err := svc.AddModerator(ctx, "mod-1", "s1", "mod-2"); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("non-owner assignment should be unauthorized, got %v", err)
	}
	if _, err := svc.AddModerator(ctx, "owner-1", "s1", "owner-1"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("assigning the owner should be rejected, got %v", err)
	}
	if _, err := svc.AddModerator(ctx, "owner-1", "s1", "  "); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("blank target should be rejected, got %v", err)
	}
	if _, err := svc.AddModerator(ctx, "owner-1", "missing", "mod-1"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("unknown stream should be not found, got %v", err)
	}
}

func TestBanAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Ban(ctx, "viewer-1", "s1", "troll-1", "spam"); !fault.IsKind(err, fault.KindUnauthorized) {
		t.Fatalf("viewer ban should be unauthorized, got %v", err)
	}

	entry, err := svc.Ban(ctx, "owner-1", "s1", "troll-1", "spam")
	if err != nil {
		t.Fatalf("owner ban: %v", err)
	}
	if entry.ID == "" || entry.Action != models.ActionBan || entry.TargetID != "troll-1" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.PurgeAfter == nil {
		t.Fatal("ban entry must carry a retention deadline")
	}

	if _, err := svc.AddModerator(ctx, "owner-1", "s1", "mod-1"); err != nil {
		t.Fatalf("add moderator: %v", err)
	}
	if _, err := svc.Ban(ctx, "mod-1", "s1", "troll-2", ""); err != nil {
		t.Fatalf("moderator ban: %v", err)
	}
}

func TestBanValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Ban(ctx, "owner-1", "s1", "", "spam"); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("blank target should be rejected, got %v", err)
	}
	if _, err := svc.Ban(ctx, "owner-1", "s1", "troll-1", strings.Repeat("x", maxReasonLength+1)); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("oversized reason should be rejected, got %v", err)
	}
}

func TestListLogNewestFirst(t *testing.T) {
	clock := time.Now().UTC()
	svc, _ := newTestService(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	targets := []string{"a", "b", "c"}
	for _, target := range targets {
		if _, err := svc.Ban(ctx, "owner-1", "s1", target, ""); err != nil {
			t.Fatalf("ban %s: %v", target, err)
		}
		clock = clock.Add(time.Second)
	}

	entries, err := svc.ListLog(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].TargetID != "c" || entries[1].TargetID != "b" {
		t.Fatalf("log order = %s, %s; want newest first", entries[0].TargetID, entries[1].TargetID)
	}

	// A non-positive limit falls back to the default page size.
	entries, err = svc.ListLog(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	if len(entries) != len(targets) {
		t.Fatalf("entries = %d, want %d", len(entries), len(targets))
	}
}

func TestSweepExpired(t *testing.T) {
	clock := time.Now().UTC()
	svc, st := newTestService(t,
		WithLogRetention(time.Hour),
		WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if _, err := svc.Ban(ctx, "owner-1", "s1", "troll-1", ""); err != nil {
		t.Fatalf("ban: %v", err)
	}
	clock = clock.Add(30 * time.Minute)
	if _, err := svc.Ban(ctx, "owner-1", "s1", "troll-2", ""); err != nil {
		t.Fatalf("ban: %v", err)
	}

	removed, err := svc.SweepExpired(ctx, 10)
	if err != nil || removed != 0 {
		t.Fatalf("early sweep = %d, %v", removed, err)
	}

	clock = clock.Add(45 * time.Minute)
	removed, err = svc.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	entries, err := st.ListModerationEntries(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].TargetID != "troll-2" {
		t.Fatalf("surviving entries = %+v", entries)
	}
}

func TestModerationOnDeletedStream(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	disabled := models.StatusDisabled
	deleted := true
	if _, swapped, err := st.UpdateSessionIfStatus(ctx, "s1", models.StatusActive, store.SessionUpdate{
		Status: &disabled, IsDeleted: &deleted,
	}); err != nil || !swapped {
		t.Fatalf("mark deleted: swapped=%v err=%v", swapped, err)
	}

	if _, err := svc.AddModerator(ctx, "owner-1", "s1", "mod-1"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("deleted stream should read as absent, got %v", err)
	}
	if _, err := svc.Ban(ctx, "owner-1", "s1", "troll-1", ""); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("deleted stream should read as absent, got %v", err)
	}
	if _, err := svc.ListLog(ctx, "s1", 10); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("deleted stream should read as absent, got %v", err)
	}
}
