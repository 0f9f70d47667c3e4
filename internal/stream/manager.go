// Package stream implements the live-stream lifecycle: creation against the
// ingestion platform, owner-driven end and delete, and the status state
// machine both user actions and platform callbacks are checked against.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/ingest"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 500
)

// DefaultDeletedRetention keeps logically deleted sessions around for the
// reaper this long before physical removal.
const DefaultDeletedRetention = 24 * time.Hour

// PresenceCloser deactivates every active presence on a stream. The
// lifecycle manager calls it when a broadcast ends so viewer rows do not
// outlive the session they watched.
type PresenceCloser interface {
	DeactivateAll(ctx context.Context, streamID string) (int, error)
}

// Manager coordinates session lifecycle operations between the store and the
// ingestion platform.
type Manager struct {
	store     store.Store
	ingest    ingest.Controller
	presences PresenceCloser
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
}

// Option mutates manager configuration.
type Option func(*Manager)

// WithDeletedRetention overrides how long deleted sessions linger before the
// reaper removes them.
func WithDeletedRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithPresenceCloser installs the presence tracker used to detach viewers
// when a broadcast ends.
func WithPresenceCloser(closer PresenceCloser) Option {
	return func(m *Manager) {
		m.presences = closer
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires a lifecycle manager.
func NewManager(st store.Store, controller ingest.Controller, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     st,
		ingest:    controller,
		logger:    logger,
		retention: DefaultDeletedRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateParams carries the caller input for Create.
type CreateParams struct {
	CallerID    string
	RoomID      string
	Title       string
	Description string
}

// Create provisions ingest credentials and persists a new idle session. The
// platform call happens first: when it fails, nothing is written and the
// caller receives a retryable infrastructure error.
func (m *Manager) Create(ctx context.Context, params CreateParams) (models.LiveStreamSession, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" || len(title) > maxTitleLength {
		return models.LiveStreamSession{}, fault.Validation("title must be between 1 and %d characters", maxTitleLength)
	}
	description := strings.TrimSpace(params.Description)
	if len(description) > maxDescriptionLength {
		return models.LiveStreamSession{}, fault.Validation("description must be at most %d characters", maxDescriptionLength)
	}
	roomID := strings.TrimSpace(params.RoomID)
	if roomID == "" {
		return models.LiveStreamSession{}, fault.Validation("roomId is required")
	}

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if !room.AllowsBroadcast(params.CallerID) {
		return models.LiveStreamSession{}, fault.Unauthorized("caller may not broadcast in room %s", roomID)
	}

	credentials, err := m.ingest.CreateIngest(ctx)
	if err != nil {
		return models.LiveStreamSession{}, fault.Infrastructure(err, "provision ingest")
	}

	streamID, err := store.NewStreamID()
	if err != nil {
		return models.LiveStreamSession{}, fault.Infrastructure(err, "allocate stream id")
	}

	now := m.now()
	session := models.LiveStreamSession{
		ID:          streamID,
		OwnerID:     params.CallerID,
		RoomID:      roomID,
		Title:       title,
		Description: description,
		IngestID:    credentials.IngestID,
		IngestKey:   credentials.IngestKey,
		PlaybackID:  credentials.PlaybackID,
		Status:      models.StatusIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.PutSessionIfAbsent(ctx, session); err != nil {
		// The session never became visible; release the ingest object so the
		// platform does not accumulate orphans.
		if teardownErr := m.ingest.DeleteIngest(ctx, credentials.IngestID); teardownErr != nil {
			m.logger.Error("ingest teardown after failed create", "ingest_id", credentials.IngestID, "error", teardownErr)
		}
		return models.LiveStreamSession{}, err
	}
	m.logger.Info("session created", "stream_id", session.ID, "room_id", roomID, "owner_id", params.CallerID)
	return session, nil
}

// End halts an active broadcast on the owner's request: status returns to
// idle, the viewer count resets, and active presences are detached. Ending a
// session that is not live is a conflict.
func (m *Manager) End(ctx context.Context, callerID, streamID string) (models.LiveStreamSession, error) {
	session, err := m.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	if session.OwnerID != callerID {
		return models.LiveStreamSession{}, fault.Unauthorized("only the owner may end the session")
	}
	if session.Status != models.StatusActive {
		return models.LiveStreamSession{}, fault.Conflict("session is not live")
	}

	now := m.now()
	idle := models.StatusIdle
	zero := 0
	updated, swapped, err := m.store.UpdateSessionIfStatus(ctx, streamID, models.StatusActive, store.SessionUpdate{
		Status:      &idle,
		EndedAt:     &now,
		ViewerCount: &zero,
	})
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if !swapped {
		// The platform's halt callback won the race; the broadcast is over
		// either way.
		return models.LiveStreamSession{}, fault.Conflict("session is not live")
	}
	m.detachViewers(ctx, streamID)
	m.logger.Info("session ended", "stream_id", streamID, "peak_viewers", updated.PeakViewerCount)
	return updated, nil
}

// Delete disables a session and marks it for retention-based reaping. An
// active broadcast must be ended first, and deleting twice is rejected so
// client bugs surface instead of being silently absorbed.
func (m *Manager) Delete(ctx context.Context, callerID, streamID string) (models.LiveStreamSession, error) {
	session, err := m.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.OwnerID != callerID {
		return models.LiveStreamSession{}, fault.Unauthorized("only the owner may delete the session")
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.Conflict("session %s is already deleted", streamID)
	}
	if session.Status == models.StatusActive {
		return models.LiveStreamSession{}, fault.Conflict("end the broadcast before deleting the session")
	}

	disabled := models.StatusDisabled
	deleted := true
	purgeAfter := m.now().Add(m.retention)
	updated, swapped, err := m.store.UpdateSessionIfStatus(ctx, streamID, models.StatusIdle, store.SessionUpdate{
		Status:     &disabled,
		IsDeleted:  &deleted,
		PurgeAfter: &purgeAfter,
	})
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if !swapped {
		return models.LiveStreamSession{}, fault.Conflict("session %s is already deleted", streamID)
	}

	// The store mutation is authoritative; losing the ingest object on the
	// platform side is recoverable and only logged.
	if err := m.ingest.DeleteIngest(ctx, session.IngestID); err != nil {
		m.logger.Error("ingest teardown failed", "stream_id", streamID, "ingest_id", session.IngestID, "error", err)
	}
	m.logger.Info("session deleted", "stream_id", streamID)
	return updated, nil
}

// Get returns a session by id. Logically deleted sessions are reported as
// absent.
func (m *Manager) Get(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	session, err := m.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	return session, nil
}

// List pages through sessions scoped by room, owner, or status.
func (m *Manager) List(ctx context.Context, filter store.SessionFilter) ([]models.LiveStreamSession, string, error) {
	if filter.Limit <= 0 || filter.Limit > store.DefaultPageLimit {
		filter.Limit = store.DefaultPageLimit
	}
	filter.IncludeDeleted = false
	return m.store.ListSessions(ctx, filter)
}

// PurgeExpired physically removes sessions whose retention window has
// passed, along with their presences, moderator assignments, and reverse
// index entries.
func (m *Manager) PurgeExpired(ctx context.Context, limit int) (int, error) {
	expired, err := m.store.ListExpiredSessions(ctx, m.now(), limit)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, session := range expired {
		presences, err := m.store.ListPresences(ctx, session.ID, false)
		if err != nil {
			return purged, err
		}
		for _, presence := range presences {
			if err := m.store.DeletePresence(ctx, presence.StreamID, presence.AccountID); err != nil {
				return purged, err
			}
		}
		if err := m.store.DeleteModerators(ctx, session.ID); err != nil {
			return purged, err
		}
		if err := m.store.DeleteSession(ctx, session.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (m *Manager) detachViewers(ctx context.Context, streamID string) {
	if m.presences == nil {
		return
	}
	if _, err := m.presences.DeactivateAll(ctx, streamID); err != nil {
		m.logger.Error("detach viewers", "stream_id", streamID, "error", err)
	}
}
