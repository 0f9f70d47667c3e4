package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
)

// MemoryStore is a mutex-guarded in-process implementation of Store used by
// tests and single-node development setups. Every method takes the lock for
// its whole critical section, which gives the same atomicity guarantees the
// managed store provides through conditional writes.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]models.LiveStreamSession
	ingestIdx  map[string]string
	presences  map[string]models.ViewerPresence
	moderators map[string]models.ModeratorAssignment
	logEntries map[string]models.ModerationLogEntry
	rooms      map[string]models.Room
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]models.LiveStreamSession),
		ingestIdx:  make(map[string]string),
		presences:  make(map[string]models.ViewerPresence),
		moderators: make(map[string]models.ModeratorAssignment),
		logEntries: make(map[string]models.ModerationLogEntry),
		rooms:      make(map[string]models.Room),
	}
}

var _ Store = (*MemoryStore)(nil)

func presenceKey(streamID, accountID string) string {
	return streamID + "/" + accountID
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) GetSession(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	return session, nil
}

func (s *MemoryStore) GetSessionByIngestID(ctx context.Context, ingestID string) (models.LiveStreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	streamID, ok := s.ingestIdx[ingestID]
	if !ok {
		return models.LiveStreamSession{}, fault.NotFound("no session for ingest reference")
	}
	session, ok := s.sessions[streamID]
	if !ok {
		return models.LiveStreamSession{}, fault.NotFound("no session for ingest reference")
	}
	return session, nil
}

func (s *MemoryStore) PutSessionIfAbsent(ctx context.Context, session models.LiveStreamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fault.Conflict("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	if session.IngestID != "" {
		s.ingestIdx[session.IngestID] = session.ID
	}
	return nil
}

func applySessionUpdate(session models.LiveStreamSession, update SessionUpdate, now time.Time) models.LiveStreamSession {
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.Description != nil {
		session.Description = *update.Description
	}
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.AssetID != nil {
		session.AssetID = *update.AssetID
	}
	if update.StartedAt != nil {
		started := *update.StartedAt
		session.StartedAt = &started
	}
	if update.EndedAt != nil {
		ended := *update.EndedAt
		session.EndedAt = &ended
	}
	if update.ViewerCount != nil {
		session.ViewerCount = *update.ViewerCount
		if session.ViewerCount < 0 {
			session.ViewerCount = 0
		}
	}
	if update.IsDeleted != nil {
		session.IsDeleted = *update.IsDeleted
	}
	if update.PurgeAfter != nil {
		purge := *update.PurgeAfter
		session.PurgeAfter = &purge
	}
	session.UpdatedAt = now
	return session
}

func (s *MemoryStore) UpdateSessionIfStatus(ctx context.Context, streamID string, expect models.SessionStatus, update SessionUpdate) (models.LiveStreamSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return models.LiveStreamSession{}, false, fault.NotFound("session %s not found", streamID)
	}
	if session.Status != expect {
		return session, false, nil
	}
	session = applySessionUpdate(session, update, time.Now().UTC())
	s.sessions[streamID] = session
	return session, true, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, streamID string, update SessionUpdate) (models.LiveStreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	session = applySessionUpdate(session, update, time.Now().UTC())
	s.sessions[streamID] = session
	return session, nil
}

func (s *MemoryStore) AddSessionCounters(ctx context.Context, streamID string, viewerDelta, viewsDelta int) (models.LiveStreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	session.ViewerCount += viewerDelta
	if session.ViewerCount < 0 {
		session.ViewerCount = 0
	}
	session.TotalViews += viewsDelta
	session.UpdatedAt = time.Now().UTC()
	s.sessions[streamID] = session
	return session, nil
}

func (s *MemoryStore) SwapSessionPeak(ctx context.Context, streamID string, expect, next int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return false, fault.NotFound("session %s not found", streamID)
	}
	if session.PeakViewerCount != expect {
		return false, nil
	}
	session.PeakViewerCount = next
	session.UpdatedAt = time.Now().UTC()
	s.sessions[streamID] = session
	return true, nil
}

func matchesFilter(session models.LiveStreamSession, filter SessionFilter) bool {
	if !filter.IncludeDeleted && session.IsDeleted {
		return false
	}
	if filter.RoomID != "" && session.RoomID != filter.RoomID {
		return false
	}
	if filter.OwnerID != "" && session.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Status != nil && session.Status != *filter.Status {
		return false
	}
	return true
}

func (s *MemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.LiveStreamSession, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]models.LiveStreamSession, 0)
	for _, session := range s.sessions {
		if matchesFilter(session, filter) {
			matched = append(matched, session)
		}
	}
	// Stream IDs sort in creation order; pages walk newest first.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	cursor := strings.TrimSpace(filter.Cursor)
	page := make([]models.LiveStreamSession, 0, limit)
	for _, session := range matched {
		if cursor != "" && session.ID >= cursor {
			continue
		}
		page = append(page, session)
		if len(page) == limit {
			break
		}
	}
	next := ""
	if len(page) == limit && len(page) < len(matched) {
		last := page[len(page)-1].ID
		for _, session := range matched {
			if session.ID < last {
				next = last
				break
			}
		}
	}
	return page, next, nil
}

func (s *MemoryStore) ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]models.LiveStreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make([]models.LiveStreamSession, 0)
	for _, session := range s.sessions {
		if session.PurgeAfter != nil && session.PurgeAfter.Before(before) {
			expired = append(expired, session)
			if limit > 0 && len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[streamID]
	if !ok {
		return nil
	}
	delete(s.sessions, streamID)
	if session.IngestID != "" {
		delete(s.ingestIdx, session.IngestID)
	}
	return nil
}

func (s *MemoryStore) GetPresence(ctx context.Context, streamID, accountID string) (models.ViewerPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	presence, ok := s.presences[presenceKey(streamID, accountID)]
	if !ok {
		return models.ViewerPresence{}, fault.NotFound("presence not found")
	}
	return presence, nil
}

func (s *MemoryStore) PutPresenceIfAbsent(ctx context.Context, presence models.ViewerPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey(presence.StreamID, presence.AccountID)
	if _, exists := s.presences[key]; exists {
		return fault.Conflict("presence already exists")
	}
	s.presences[key] = presence
	return nil
}

func (s *MemoryStore) ActivatePresenceIfInactive(ctx context.Context, streamID, accountID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey(streamID, accountID)
	presence, ok := s.presences[key]
	if !ok {
		return false, fault.NotFound("presence not found")
	}
	if presence.IsActive {
		return false, nil
	}
	presence.IsActive = true
	presence.JoinedAt = now
	presence.LastPingAt = now
	presence.LeftAt = nil
	presence.PurgeAfter = nil
	presence.TotalRejoins++
	s.presences[key] = presence
	return true, nil
}

func (s *MemoryStore) DeactivatePresenceIfActive(ctx context.Context, streamID, accountID string, leftAt, purgeAfter time.Time) (models.ViewerPresence, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey(streamID, accountID)
	presence, ok := s.presences[key]
	if !ok {
		return models.ViewerPresence{}, false, fault.NotFound("presence not found")
	}
	if !presence.IsActive {
		return presence, false, nil
	}
	presence.IsActive = false
	left := leftAt
	presence.LeftAt = &left
	if watched := leftAt.Sub(presence.JoinedAt); watched > 0 {
		presence.WatchSeconds += int64(watched.Seconds())
	}
	purge := purgeAfter
	presence.PurgeAfter = &purge
	s.presences[key] = presence
	return presence, true, nil
}

func (s *MemoryStore) TouchPresence(ctx context.Context, streamID, accountID string, pingAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey(streamID, accountID)
	presence, ok := s.presences[key]
	if !ok {
		return fault.NotFound("presence not found")
	}
	presence.LastPingAt = pingAt
	s.presences[key] = presence
	return nil
}

func (s *MemoryStore) ListPresences(ctx context.Context, streamID string, activeOnly bool) ([]models.ViewerPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]models.ViewerPresence, 0)
	for _, presence := range s.presences {
		if presence.StreamID != streamID {
			continue
		}
		if activeOnly && !presence.IsActive {
			continue
		}
		matched = append(matched, presence)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].AccountID < matched[j].AccountID
	})
	return matched, nil
}

func (s *MemoryStore) ListStalePresences(ctx context.Context, lastPingBefore time.Time, limit int) ([]models.ViewerPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := make([]models.ViewerPresence, 0)
	for _, presence := range s.presences {
		if presence.IsActive && presence.LastPingAt.Before(lastPingBefore) {
			stale = append(stale, presence)
			if limit > 0 && len(stale) == limit {
				break
			}
		}
	}
	return stale, nil
}

func (s *MemoryStore) ListExpiredPresences(ctx context.Context, before time.Time, limit int) ([]models.ViewerPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make([]models.ViewerPresence, 0)
	for _, presence := range s.presences {
		if !presence.IsActive && presence.PurgeAfter != nil && presence.PurgeAfter.Before(before) {
			expired = append(expired, presence)
			if limit > 0 && len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (s *MemoryStore) DeletePresence(ctx context.Context, streamID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presences, presenceKey(streamID, accountID))
	return nil
}

func (s *MemoryStore) PutModeratorIfAbsent(ctx context.Context, assignment models.ModeratorAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey(assignment.StreamID, assignment.AccountID)
	if _, exists := s.moderators[key]; exists {
		return fault.Conflict("account %s is already a moderator", assignment.AccountID)
	}
	s.moderators[key] = assignment
	return nil
}

func (s *MemoryStore) IsModerator(ctx context.Context, streamID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.moderators[presenceKey(streamID, accountID)]
	return ok, nil
}

func (s *MemoryStore) ListModerators(ctx context.Context, streamID string) ([]models.ModeratorAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]models.ModeratorAssignment, 0)
	for _, assignment := range s.moderators {
		if assignment.StreamID == streamID {
			matched = append(matched, assignment)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].AccountID < matched[j].AccountID
	})
	return matched, nil
}

func (s *MemoryStore) DeleteModerators(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, assignment := range s.moderators {
		if assignment.StreamID == streamID {
			delete(s.moderators, key)
		}
	}
	return nil
}

func (s *MemoryStore) AppendModerationEntry(ctx context.Context, entry models.ModerationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logEntries[entry.ID]; exists {
		return fault.Conflict("log entry %s already exists", entry.ID)
	}
	s.logEntries[entry.ID] = entry
	return nil
}

func (s *MemoryStore) ListModerationEntries(ctx context.Context, streamID string, limit int) ([]models.ModerationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]models.ModerationLogEntry, 0)
	for _, entry := range s.logEntries {
		if entry.StreamID == streamID {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) ListExpiredModerationEntries(ctx context.Context, before time.Time, limit int) ([]models.ModerationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make([]models.ModerationLogEntry, 0)
	for _, entry := range s.logEntries {
		if entry.PurgeAfter != nil && entry.PurgeAfter.Before(before) {
			expired = append(expired, entry)
			if limit > 0 && len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (s *MemoryStore) DeleteModerationEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logEntries, id)
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, fault.NotFound("room %s not found", roomID)
	}
	return room, nil
}

func (s *MemoryStore) PutRoom(ctx context.Context, room models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}
