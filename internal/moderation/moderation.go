// Package moderation manages moderator assignments and the append-only
// moderation audit log. Recording a decision and enforcing it are separate
// concerns: the log is authoritative, and the real-time transport consults
// it to suppress banned accounts.
package moderation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

const maxReasonLength = 500

// DefaultLogRetention bounds the audit window before entries are reaped.
const DefaultLogRetention = 90 * 24 * time.Hour

// Service implements moderator assignment and ban recording.
type Service struct {
	store     store.Store
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
}

// Option mutates service configuration.
type Option func(*Service)

// WithLogRetention overrides the audit-log retention window.
func WithLogRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a moderation service.
func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		logger:    logger,
		retention: DefaultLogRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) session(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	session, err := s.store.GetSession(ctx, streamID)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	if session.IsDeleted {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	return session, nil
}

// AddModerator assigns moderation authority over a stream. Only the stream
// owner may assign, and duplicates are rejected through a conditional create
// rather than overwritten.
func (s *Service) AddModerator(ctx context.Context, callerID, streamID, targetID string) (models.ModeratorAssignment, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return models.ModeratorAssignment{}, fault.Validation("target account is required")
	}
	session, err := s.session(ctx, streamID)
	if err != nil {
		return models.ModeratorAssignment{}, err
	}
	if session.OwnerID != callerID {
		return models.ModeratorAssignment{}, fault.Unauthorized("only the owner may assign moderators")
	}
	if targetID == session.OwnerID {
		return models.ModeratorAssignment{}, fault.Validation("the owner already moderates the stream")
	}

	assignment := models.ModeratorAssignment{
		StreamID:   streamID,
		AccountID:  targetID,
		AssignedBy: callerID,
		AssignedAt: s.now(),
	}
	if err := s.store.PutModeratorIfAbsent(ctx, assignment); err != nil {
		return models.ModeratorAssignment{}, err
	}
	s.logger.Info("moderator assigned", "stream_id", streamID, "account_id", targetID)
	return assignment, nil
}

// Ban records a ban decision in the audit log. The caller must be the stream
// owner or an assigned moderator. Nothing is disconnected here; enforcement
// belongs to the transport layer reading the log.
func (s *Service) Ban(ctx context.Context, callerID, streamID, targetID, reason string) (models.ModerationLogEntry, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return models.ModerationLogEntry{}, fault.Validation("target account is required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return models.ModerationLogEntry{}, fault.Validation("reason must be at most %d characters", maxReasonLength)
	}
	session, err := s.session(ctx, streamID)
	if err != nil {
		return models.ModerationLogEntry{}, err
	}
	allowed := session.OwnerID == callerID
	if !allowed {
		isModerator, err := s.store.IsModerator(ctx, streamID, callerID)
		if err != nil {
			return models.ModerationLogEntry{}, err
		}
		allowed = isModerator
	}
	if !allowed {
		return models.ModerationLogEntry{}, fault.Unauthorized("caller may not moderate this stream")
	}

	now := s.now()
	purgeAfter := now.Add(s.retention)
	entry := models.ModerationLogEntry{
		ID:         uuid.NewString(),
		StreamID:   streamID,
		ActorID:    callerID,
		Action:     models.ActionBan,
		TargetID:   targetID,
		Reason:     reason,
		CreatedAt:  now,
		PurgeAfter: &purgeAfter,
	}
	if err := s.store.AppendModerationEntry(ctx, entry); err != nil {
		return models.ModerationLogEntry{}, err
	}
	s.logger.Info("ban recorded", "stream_id", streamID, "actor_id", callerID, "target_id", targetID)
	return entry, nil
}

// ListModerators returns the stream's moderator assignments.
func (s *Service) ListModerators(ctx context.Context, streamID string) ([]models.ModeratorAssignment, error) {
	if _, err := s.session(ctx, streamID); err != nil {
		return nil, err
	}
	return s.store.ListModerators(ctx, streamID)
}

// ListLog returns the most recent audit entries for a stream, newest first.
func (s *Service) ListLog(ctx context.Context, streamID string, limit int) ([]models.ModerationLogEntry, error) {
	if _, err := s.session(ctx, streamID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > store.DefaultPageLimit {
		limit = store.DefaultPageLimit
	}
	return s.store.ListModerationEntries(ctx, streamID, limit)
}

// SweepExpired removes audit entries past their retention window. Entries
// are immutable until then.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.ListExpiredModerationEntries(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range expired {
		if err := s.store.DeleteModerationEntry(ctx, entry.ID); err != nil {
			s.logger.Error("purge moderation entry", "entry_id", entry.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
