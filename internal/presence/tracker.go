// Package presence tracks who is watching which live session. Join, leave,
// and ping are idempotent by (stream, account); every counter mutation goes
// through the store's atomic primitives so concurrent viewers can never lose
// increments or drive counts negative.
package presence

import (
	"context"
	"log/slog"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

const (
	// DefaultStaleWindow is how long a presence may go without a ping before
	// the reaper treats the viewer as gone.
	DefaultStaleWindow = 2 * time.Minute
	// DefaultRetention keeps deactivated presence rows for analytics before
	// physical removal.
	DefaultRetention = time.Hour
)

// Tracker maintains viewer presence rows and the session viewer counters.
type Tracker struct {
	store       store.Store
	logger      *slog.Logger
	staleWindow time.Duration
	retention   time.Duration
	now         func() time.Time
}

// Option mutates tracker configuration.
type Option func(*Tracker)

// WithStaleWindow overrides the liveness window used by SweepStale.
func WithStaleWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.staleWindow = d
		}
	}
}

// WithRetention overrides how long inactive presence rows are kept.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker wires a presence tracker.
func NewTracker(st store.Store, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:       st,
		logger:      logger,
		staleWindow: DefaultStaleWindow,
		retention:   DefaultRetention,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) activeSession(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	session, err := t.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	if session.Status != models.StatusActive {
		return models.LiveStreamSession{}, fault.Conflict("session is not live")
	}
	return session, nil
}

// Join registers the caller as a viewer of an active session. A repeated
// join while already watching only refreshes the ping timestamp; a rejoin
// after leaving reactivates the existing row and bumps its rejoin counter.
// New viewers atomically increment viewerCount and totalViews, then raise
// the peak high-water mark through compare-and-swap.
func (t *Tracker) Join(ctx context.Context, callerID, streamID string) (models.LiveStreamSession, error) {
	session, err := t.activeSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}

	now := t.now()
	counted := false

	existing, err := t.store.GetPresence(ctx, streamID, callerID)
	switch {
	case err == nil && existing.IsActive:
		if touchErr := t.store.TouchPresence(ctx, streamID, callerID, now); touchErr != nil {
			return models.LiveStreamSession{}, touchErr
		}
	case err == nil:
		activated, actErr := t.store.ActivatePresenceIfInactive(ctx, streamID, callerID, now)
		if actErr != nil {
			return models.LiveStreamSession{}, actErr
		}
		if !activated {
			// A concurrent join reactivated the row; it owns the counters.
			if touchErr := t.store.TouchPresence(ctx, streamID, callerID, now); touchErr != nil {
				return models.LiveStreamSession{}, touchErr
			}
		}
		counted = activated
	case fault.IsKind(err, fault.KindNotFound):
		putErr := t.store.PutPresenceIfAbsent(ctx, models.ViewerPresence{
			StreamID:   streamID,
			AccountID:  callerID,
			IsActive:   true,
			JoinedAt:   now,
			LastPingAt: now,
		})
		if putErr == nil {
			counted = true
			break
		}
		if !fault.IsKind(putErr, fault.KindConflict) {
			return models.LiveStreamSession{}, putErr
		}
		// Lost the create race to a concurrent join by the same account.
		if touchErr := t.store.TouchPresence(ctx, streamID, callerID, now); touchErr != nil {
			return models.LiveStreamSession{}, touchErr
		}
	default:
		return models.LiveStreamSession{}, err
	}

	if !counted {
		return session, nil
	}

	updated, err := t.store.AddSessionCounters(ctx, streamID, 1, 1)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	return t.raisePeak(ctx, updated)
}

// raisePeak lifts peakViewerCount to at least viewerCount with a
// compare-and-swap loop keyed on the currently stored peak, so two racing
// joins cannot clobber each other's update.
func (t *Tracker) raisePeak(ctx context.Context, session models.LiveStreamSession) (models.LiveStreamSession, error) {
	for session.PeakViewerCount < session.ViewerCount {
		swapped, err := t.store.SwapSessionPeak(ctx, session.ID, session.PeakViewerCount, session.ViewerCount)
		if err != nil {
			return models.LiveStreamSession{}, err
		}
		if swapped {
			session.PeakViewerCount = session.ViewerCount
			break
		}
		fresh, err := t.store.GetSession(ctx, session.ID)
		if err != nil {
			return models.LiveStreamSession{}, err
		}
		session = fresh
	}
	return session, nil
}

// Leave deactivates the caller's presence and decrements the viewer count.
// Leaving without having joined is a no-op, not an error.
func (t *Tracker) Leave(ctx context.Context, callerID, streamID string) (models.LiveStreamSession, error) {
	session, err := t.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}

	now := t.now()
	_, deactivated, err := t.store.DeactivatePresenceIfActive(ctx, streamID, callerID, now, now.Add(t.retention))
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return session, nil
		}
		return models.LiveStreamSession{}, err
	}
	if !deactivated {
		return session, nil
	}
	return t.store.AddSessionCounters(ctx, streamID, -1, 0)
}

// Ping refreshes the caller's liveness timestamp. Pinging without an active
// presence is reported so clients know to rejoin.
func (t *Tracker) Ping(ctx context.Context, callerID, streamID string) error {
	presence, err := t.store.GetPresence(ctx, streamID, callerID)
	if err != nil {
		return err
	}
	if !presence.IsActive {
		return fault.Conflict("presence is not active; join again")
	}
	return t.store.TouchPresence(ctx, streamID, callerID, t.now())
}

// DeactivateAll detaches every active viewer of a stream without touching
// viewerCount; callers reset the counter themselves as part of the halt
// transition.
func (t *Tracker) DeactivateAll(ctx context.Context, streamID string) (int, error) {
	active, err := t.store.ListPresences(ctx, streamID, true)
	if err != nil {
		return 0, err
	}
	now := t.now()
	detached := 0
	for _, presence := range active {
		_, ok, err := t.store.DeactivatePresenceIfActive(ctx, streamID, presence.AccountID, now, now.Add(t.retention))
		if err != nil {
			return detached, err
		}
		if ok {
			detached++
		}
	}
	return detached, nil
}

// ListViewers returns the current active presences for a stream.
func (t *Tracker) ListViewers(ctx context.Context, streamID string) ([]models.ViewerPresence, error) {
	return t.store.ListPresences(ctx, streamID, true)
}

// SweepStale force-leaves presences that stopped pinging and physically
// removes inactive rows past their retention window. It is driven by the
// background reaper.
func (t *Tracker) SweepStale(ctx context.Context, limit int) (int, error) {
	now := t.now()
	stale, err := t.store.ListStalePresences(ctx, now.Add(-t.staleWindow), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, presence := range stale {
		if _, err := t.Leave(ctx, presence.AccountID, presence.StreamID); err != nil {
			t.logger.Error("sweep stale presence", "stream_id", presence.StreamID, "account_id", presence.AccountID, "error", err)
			continue
		}
		swept++
	}

	expired, err := t.store.ListExpiredPresences(ctx, now, limit)
	if err != nil {
		return swept, err
	}
	for _, presence := range expired {
		if err := t.store.DeletePresence(ctx, presence.StreamID, presence.AccountID); err != nil {
			t.logger.Error("purge expired presence", "stream_id", presence.StreamID, "account_id", presence.AccountID, "error", err)
		}
	}
	return swept, nil
}
