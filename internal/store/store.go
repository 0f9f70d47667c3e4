// Package store adapts the managed keyed store the session core persists
// into. The contract is deliberately narrow: get-by-id, conditional put,
// atomic counter updates, compare-and-swap keyed on the current value, and
// index-scoped queries. No caller ever reads a counter and writes it back
// unconditionally; every shared-counter mutation is a single atomic store
// operation so concurrent joins, leaves, and platform callbacks cannot lose
// updates.
package store

import (
	"context"
	"time"

	"pulsecast/internal/models"
)

// SessionUpdate lists session fields a conditional update may set. Nil
// fields are left untouched.
type SessionUpdate struct {
	Title       *string
	Description *string
	Status      *models.SessionStatus
	AssetID     *string
	StartedAt   *time.Time
	EndedAt     *time.Time
	ViewerCount *int
	IsDeleted   *bool
	PurgeAfter  *time.Time
}

// SessionFilter scopes a ListSessions query to one secondary index.
type SessionFilter struct {
	RoomID         string
	OwnerID        string
	Status         *models.SessionStatus
	IncludeDeleted bool
	Limit          int
	Cursor         string
}

// DefaultPageLimit bounds ListSessions pages when the caller does not.
const DefaultPageLimit = 50

// Store is the keyed-store contract consumed by the lifecycle manager,
// presence tracker, moderation subsystem, and webhook layer.
type Store interface {
	Ping(ctx context.Context) error

	// Sessions.
	GetSession(ctx context.Context, streamID string) (models.LiveStreamSession, error)
	GetSessionByIngestID(ctx context.Context, ingestID string) (models.LiveStreamSession, error)
	PutSessionIfAbsent(ctx context.Context, session models.LiveStreamSession) error
	// UpdateSessionIfStatus applies the update only while the session still
	// has the expected status. The boolean reports whether the swap won; a
	// lost swap returns the current record unchanged.
	UpdateSessionIfStatus(ctx context.Context, streamID string, expect models.SessionStatus, update SessionUpdate) (models.LiveStreamSession, bool, error)
	UpdateSession(ctx context.Context, streamID string, update SessionUpdate) (models.LiveStreamSession, error)
	// AddSessionCounters atomically adjusts viewerCount and totalViews.
	// viewerCount is floored at zero inside the store operation.
	AddSessionCounters(ctx context.Context, streamID string, viewerDelta, viewsDelta int) (models.LiveStreamSession, error)
	// SwapSessionPeak raises peakViewerCount from expect to next, succeeding
	// only while the stored peak still equals expect.
	SwapSessionPeak(ctx context.Context, streamID string, expect, next int) (bool, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.LiveStreamSession, string, error)
	ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]models.LiveStreamSession, error)
	// DeleteSession physically removes a reaped session and its indexes.
	DeleteSession(ctx context.Context, streamID string) error

	// Viewer presences.
	GetPresence(ctx context.Context, streamID, accountID string) (models.ViewerPresence, error)
	PutPresenceIfAbsent(ctx context.Context, presence models.ViewerPresence) error
	// ActivatePresenceIfInactive flips an existing presence back to active,
	// bumping totalRejoins. Returns false when the row is already active.
	ActivatePresenceIfInactive(ctx context.Context, streamID, accountID string, now time.Time) (bool, error)
	// DeactivatePresenceIfActive marks the presence inactive, recording
	// leftAt and accumulated watch time. Returns false when already inactive.
	DeactivatePresenceIfActive(ctx context.Context, streamID, accountID string, leftAt time.Time, purgeAfter time.Time) (models.ViewerPresence, bool, error)
	TouchPresence(ctx context.Context, streamID, accountID string, pingAt time.Time) error
	ListPresences(ctx context.Context, streamID string, activeOnly bool) ([]models.ViewerPresence, error)
	ListStalePresences(ctx context.Context, lastPingBefore time.Time, limit int) ([]models.ViewerPresence, error)
	ListExpiredPresences(ctx context.Context, before time.Time, limit int) ([]models.ViewerPresence, error)
	DeletePresence(ctx context.Context, streamID, accountID string) error

	// Moderator assignments.
	PutModeratorIfAbsent(ctx context.Context, assignment models.ModeratorAssignment) error
	IsModerator(ctx context.Context, streamID, accountID string) (bool, error)
	ListModerators(ctx context.Context, streamID string) ([]models.ModeratorAssignment, error)
	DeleteModerators(ctx context.Context, streamID string) error

	// Moderation audit log. Entries are append-only and immutable until the
	// retention reaper removes them.
	AppendModerationEntry(ctx context.Context, entry models.ModerationLogEntry) error
	ListModerationEntries(ctx context.Context, streamID string, limit int) ([]models.ModerationLogEntry, error)
	ListExpiredModerationEntries(ctx context.Context, before time.Time, limit int) ([]models.ModerationLogEntry, error)
	DeleteModerationEntry(ctx context.Context, id string) error

	// Rooms are owned by the wider social backend; the core only reads them
	// for broadcast-authority checks. PutRoom exists for wiring and tests.
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	PutRoom(ctx context.Context, room models.Room) error
}
