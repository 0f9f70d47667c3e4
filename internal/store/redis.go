package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
)

// Key layout: one JSON record per entity key plus sorted-set secondary
// indexes. Conditional writes use SETNX; every read-modify-write runs inside
// a WATCH transaction and retries on contention, which gives the same
// semantics as the managed store's compare-and-swap.
const (
	redisSessionPrefix   = "pc:session:"
	redisSessionIndex    = "pc:sessions:index"
	redisSessionRoomIdx  = "pc:sessions:room:"
	redisSessionOwnerIdx = "pc:sessions:owner:"
	redisSessionExpiry   = "pc:sessions:expiry"
	redisIngestPrefix    = "pc:ingest:"
	redisPresencePrefix  = "pc:presence:"
	redisPresenceStream  = "pc:presences:"
	redisPresencePing    = "pc:presence:ping"
	redisPresenceExpiry  = "pc:presence:expiry"
	redisModeratorPrefix = "pc:moderator:"
	redisModeratorStream = "pc:moderators:"
	redisModLogPrefix    = "pc:modlog:entry:"
	redisModLogStream    = "pc:modlog:stream:"
	redisModLogExpiry    = "pc:modlog:expiry"
	redisRoomPrefix      = "pc:room:"
)

const redisTxRetries = 16

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore implements Store on a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies reachability.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

var _ Store = (*RedisStore)(nil)

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fault.Infrastructure(err, "redis ping")
	}
	return nil
}

func redisInfra(err error, op string) error {
	return fault.Infrastructure(err, "redis %s", op)
}

func getJSON[T any](ctx context.Context, client redis.Cmdable, key string, dest *T) (bool, error) {
	raw, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

func mustJSON(v interface{}) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(encoded)
}

func (s *RedisStore) GetSession(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	var session models.LiveStreamSession
	found, err := getJSON(ctx, s.client, redisSessionPrefix+streamID, &session)
	if err != nil {
		return models.LiveStreamSession{}, redisInfra(err, "get session")
	}
	if !found {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	return session, nil
}

func (s *RedisStore) GetSessionByIngestID(ctx context.Context, ingestID string) (models.LiveStreamSession, error) {
	streamID, err := s.client.Get(ctx, redisIngestPrefix+ingestID).Result()
	if errors.Is(err, redis.Nil) {
		return models.LiveStreamSession{}, fault.NotFound("no session for ingest reference")
	}
	if err != nil {
		return models.LiveStreamSession{}, redisInfra(err, "get ingest index")
	}
	return s.GetSession(ctx, streamID)
}

func (s *RedisStore) PutSessionIfAbsent(ctx context.Context, session models.LiveStreamSession) error {
	created, err := s.client.SetNX(ctx, redisSessionPrefix+session.ID, mustJSON(session), 0).Result()
	if err != nil {
		return redisInfra(err, "put session")
	}
	if !created {
		return fault.Conflict("session %s already exists", session.ID)
	}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, redisSessionIndex, redis.Z{Score: 0, Member: session.ID})
	pipe.ZAdd(ctx, redisSessionRoomIdx+session.RoomID, redis.Z{Score: 0, Member: session.ID})
	pipe.ZAdd(ctx, redisSessionOwnerIdx+session.OwnerID, redis.Z{Score: 0, Member: session.ID})
	if session.IngestID != "" {
		pipe.Set(ctx, redisIngestPrefix+session.IngestID, session.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "index session")
	}
	return nil
}

// mutateSession runs a read-check-write cycle on one session record inside a
// WATCH transaction. The mutate callback returns the replacement record, or
// false to bail out without writing.
func (s *RedisStore) mutateSession(ctx context.Context, streamID string, mutate func(models.LiveStreamSession) (models.LiveStreamSession, bool)) (models.LiveStreamSession, bool, error) {
	key := redisSessionPrefix + streamID
	var result models.LiveStreamSession
	var applied bool

	txn := func(tx *redis.Tx) error {
		var session models.LiveStreamSession
		found, err := getJSON(ctx, tx, key, &session)
		if err != nil {
			return err
		}
		if !found {
			return fault.NotFound("session %s not found", streamID)
		}
		next, ok := mutate(session)
		if !ok {
			result, applied = session, false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, mustJSON(next), 0)
			if next.PurgeAfter != nil {
				pipe.ZAdd(ctx, redisSessionExpiry, redis.Z{Score: float64(next.PurgeAfter.Unix()), Member: next.ID})
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, applied = next, true
		return nil
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) {
				return models.LiveStreamSession{}, false, err
			}
			return models.LiveStreamSession{}, false, redisInfra(err, "mutate session")
		}
		return result, applied, nil
	}
	return models.LiveStreamSession{}, false, fault.Infrastructure(redis.TxFailedErr, "session update contention")
}

func (s *RedisStore) UpdateSessionIfStatus(ctx context.Context, streamID string, expect models.SessionStatus, update SessionUpdate) (models.LiveStreamSession, bool, error) {
	return s.mutateSession(ctx, streamID, func(session models.LiveStreamSession) (models.LiveStreamSession, bool) {
		if session.Status != expect {
			return session, false
		}
		return applySessionUpdate(session, update, time.Now().UTC()), true
	})
}

func (s *RedisStore) UpdateSession(ctx context.Context, streamID string, update SessionUpdate) (models.LiveStreamSession, error) {
	session, _, err := s.mutateSession(ctx, streamID, func(session models.LiveStreamSession) (models.LiveStreamSession, bool) {
		return applySessionUpdate(session, update, time.Now().UTC()), true
	})
	return session, err
}

func (s *RedisStore) AddSessionCounters(ctx context.Context, streamID string, viewerDelta, viewsDelta int) (models.LiveStreamSession, error) {
	session, _, err := s.mutateSession(ctx, streamID, func(session models.LiveStreamSession) (models.LiveStreamSession, bool) {
		session.ViewerCount += viewerDelta
		if session.ViewerCount < 0 {
			session.ViewerCount = 0
		}
		session.TotalViews += viewsDelta
		session.UpdatedAt = time.Now().UTC()
		return session, true
	})
	return session, err
}

func (s *RedisStore) SwapSessionPeak(ctx context.Context, streamID string, expect, next int) (bool, error) {
	_, swapped, err := s.mutateSession(ctx, streamID, func(session models.LiveStreamSession) (models.LiveStreamSession, bool) {
		if session.PeakViewerCount != expect {
			return session, false
		}
		session.PeakViewerCount = next
		session.UpdatedAt = time.Now().UTC()
		return session, true
	})
	return swapped, err
}

func (s *RedisStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.LiveStreamSession, string, error) {
	indexKey := redisSessionIndex
	switch {
	case filter.RoomID != "":
		indexKey = redisSessionRoomIdx + filter.RoomID
	case filter.OwnerID != "":
		indexKey = redisSessionOwnerIdx + filter.OwnerID
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	max := "+"
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		max = "(" + cursor
	}

	page := make([]models.LiveStreamSession, 0, limit)
	next := ""
	for len(page) < limit {
		ids, err := s.client.ZRevRangeByLex(ctx, indexKey, &redis.ZRangeBy{
			Max: max, Min: "-", Count: int64(limit + 1),
		}).Result()
		if err != nil {
			return nil, "", redisInfra(err, "scan session index")
		}
		if len(ids) == 0 {
			break
		}
		exhausted := len(ids) <= limit
		for _, id := range ids {
			session, err := s.GetSession(ctx, id)
			if err != nil {
				if fault.IsKind(err, fault.KindNotFound) {
					continue
				}
				return nil, "", err
			}
			if !matchesFilter(session, filter) {
				continue
			}
			page = append(page, session)
			if len(page) == limit {
				if !exhausted || id != ids[len(ids)-1] {
					next = id
				}
				break
			}
		}
		if exhausted || len(page) == limit {
			break
		}
		max = "(" + ids[len(ids)-1]
	}
	return page, next, nil
}

func (s *RedisStore) ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]models.LiveStreamSession, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisSessionExpiry, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("(%d", before.Unix()), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, redisInfra(err, "scan session expiry")
	}
	expired := make([]models.LiveStreamSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				s.client.ZRem(ctx, redisSessionExpiry, id)
				continue
			}
			return nil, err
		}
		expired = append(expired, session)
	}
	return expired, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, streamID string) error {
	session, err := s.GetSession(ctx, streamID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisSessionPrefix+streamID)
	pipe.ZRem(ctx, redisSessionIndex, streamID)
	pipe.ZRem(ctx, redisSessionRoomIdx+session.RoomID, streamID)
	pipe.ZRem(ctx, redisSessionOwnerIdx+session.OwnerID, streamID)
	pipe.ZRem(ctx, redisSessionExpiry, streamID)
	if session.IngestID != "" {
		pipe.Del(ctx, redisIngestPrefix+session.IngestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "delete session")
	}
	return nil
}

func presenceMember(streamID, accountID string) string {
	return streamID + "/" + accountID
}

func (s *RedisStore) GetPresence(ctx context.Context, streamID, accountID string) (models.ViewerPresence, error) {
	var presence models.ViewerPresence
	found, err := getJSON(ctx, s.client, redisPresencePrefix+presenceMember(streamID, accountID), &presence)
	if err != nil {
		return models.ViewerPresence{}, redisInfra(err, "get presence")
	}
	if !found {
		return models.ViewerPresence{}, fault.NotFound("presence not found")
	}
	return presence, nil
}

func (s *RedisStore) PutPresenceIfAbsent(ctx context.Context, presence models.ViewerPresence) error {
	member := presenceMember(presence.StreamID, presence.AccountID)
	created, err := s.client.SetNX(ctx, redisPresencePrefix+member, mustJSON(presence), 0).Result()
	if err != nil {
		return redisInfra(err, "put presence")
	}
	if !created {
		return fault.Conflict("presence already exists")
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, redisPresenceStream+presence.StreamID, presence.AccountID)
	pipe.ZAdd(ctx, redisPresencePing, redis.Z{Score: float64(presence.LastPingAt.Unix()), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "index presence")
	}
	return nil
}

func (s *RedisStore) mutatePresence(ctx context.Context, streamID, accountID string, mutate func(models.ViewerPresence) (models.ViewerPresence, bool)) (models.ViewerPresence, bool, error) {
	member := presenceMember(streamID, accountID)
	key := redisPresencePrefix + member
	var result models.ViewerPresence
	var applied bool

	txn := func(tx *redis.Tx) error {
		var presence models.ViewerPresence
		found, err := getJSON(ctx, tx, key, &presence)
		if err != nil {
			return err
		}
		if !found {
			return fault.NotFound("presence not found")
		}
		next, ok := mutate(presence)
		if !ok {
			result, applied = presence, false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, mustJSON(next), 0)
			if next.IsActive {
				pipe.ZAdd(ctx, redisPresencePing, redis.Z{Score: float64(next.LastPingAt.Unix()), Member: member})
				pipe.ZRem(ctx, redisPresenceExpiry, member)
			} else {
				pipe.ZRem(ctx, redisPresencePing, member)
				if next.PurgeAfter != nil {
					pipe.ZAdd(ctx, redisPresenceExpiry, redis.Z{Score: float64(next.PurgeAfter.Unix()), Member: member})
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, applied = next, true
		return nil
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var fe *fault.Error
			if errors.As(err, &fe) {
				return models.ViewerPresence{}, false, err
			}
			return models.ViewerPresence{}, false, redisInfra(err, "mutate presence")
		}
		return result, applied, nil
	}
	return models.ViewerPresence{}, false, fault.Infrastructure(redis.TxFailedErr, "presence update contention")
}

func (s *RedisStore) ActivatePresenceIfInactive(ctx context.Context, streamID, accountID string, now time.Time) (bool, error) {
	_, applied, err := s.mutatePresence(ctx, streamID, accountID, func(presence models.ViewerPresence) (models.ViewerPresence, bool) {
		if presence.IsActive {
			return presence, false
		}
		presence.IsActive = true
		presence.JoinedAt = now
		presence.LastPingAt = now
		presence.LeftAt = nil
		presence.PurgeAfter = nil
		presence.TotalRejoins++
		return presence, true
	})
	return applied, err
}

func (s *RedisStore) DeactivatePresenceIfActive(ctx context.Context, streamID, accountID string, leftAt, purgeAfter time.Time) (models.ViewerPresence, bool, error) {
	return s.mutatePresence(ctx, streamID, accountID, func(presence models.ViewerPresence) (models.ViewerPresence, bool) {
		if !presence.IsActive {
			return presence, false
		}
		presence.IsActive = false
		left := leftAt
		presence.LeftAt = &left
		if watched := leftAt.Sub(presence.JoinedAt); watched > 0 {
			presence.WatchSeconds += int64(watched.Seconds())
		}
		purge := purgeAfter
		presence.PurgeAfter = &purge
		return presence, true
	})
}

func (s *RedisStore) TouchPresence(ctx context.Context, streamID, accountID string, pingAt time.Time) error {
	_, _, err := s.mutatePresence(ctx, streamID, accountID, func(presence models.ViewerPresence) (models.ViewerPresence, bool) {
		presence.LastPingAt = pingAt
		return presence, true
	})
	return err
}

func (s *RedisStore) ListPresences(ctx context.Context, streamID string, activeOnly bool) ([]models.ViewerPresence, error) {
	accountIDs, err := s.client.SMembers(ctx, redisPresenceStream+streamID).Result()
	if err != nil {
		return nil, redisInfra(err, "list presences")
	}
	presences := make([]models.ViewerPresence, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		presence, err := s.GetPresence(ctx, streamID, accountID)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		if activeOnly && !presence.IsActive {
			continue
		}
		presences = append(presences, presence)
	}
	return presences, nil
}

func (s *RedisStore) listPresencesByScore(ctx context.Context, indexKey string, before time.Time, limit int) ([]models.ViewerPresence, error) {
	members, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("(%d", before.Unix()), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, redisInfra(err, "scan presence index")
	}
	presences := make([]models.ViewerPresence, 0, len(members))
	for _, member := range members {
		streamID, accountID, found := strings.Cut(member, "/")
		if !found {
			continue
		}
		presence, err := s.GetPresence(ctx, streamID, accountID)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				s.client.ZRem(ctx, indexKey, member)
				continue
			}
			return nil, err
		}
		presences = append(presences, presence)
	}
	return presences, nil
}

func (s *RedisStore) ListStalePresences(ctx context.Context, lastPingBefore time.Time, limit int) ([]models.ViewerPresence, error) {
	return s.listPresencesByScore(ctx, redisPresencePing, lastPingBefore, limit)
}

func (s *RedisStore) ListExpiredPresences(ctx context.Context, before time.Time, limit int) ([]models.ViewerPresence, error) {
	return s.listPresencesByScore(ctx, redisPresenceExpiry, before, limit)
}

func (s *RedisStore) DeletePresence(ctx context.Context, streamID, accountID string) error {
	member := presenceMember(streamID, accountID)
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisPresencePrefix+member)
	pipe.SRem(ctx, redisPresenceStream+streamID, accountID)
	pipe.ZRem(ctx, redisPresencePing, member)
	pipe.ZRem(ctx, redisPresenceExpiry, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "delete presence")
	}
	return nil
}

func (s *RedisStore) PutModeratorIfAbsent(ctx context.Context, assignment models.ModeratorAssignment) error {
	key := redisModeratorPrefix + presenceMember(assignment.StreamID, assignment.AccountID)
	created, err := s.client.SetNX(ctx, key, mustJSON(assignment), 0).Result()
	if err != nil {
		return redisInfra(err, "put moderator")
	}
	if !created {
		return fault.Conflict("account %s is already a moderator", assignment.AccountID)
	}
	if err := s.client.SAdd(ctx, redisModeratorStream+assignment.StreamID, assignment.AccountID).Err(); err != nil {
		return redisInfra(err, "index moderator")
	}
	return nil
}

func (s *RedisStore) IsModerator(ctx context.Context, streamID, accountID string) (bool, error) {
	exists, err := s.client.Exists(ctx, redisModeratorPrefix+presenceMember(streamID, accountID)).Result()
	if err != nil {
		return false, redisInfra(err, "check moderator")
	}
	return exists > 0, nil
}

func (s *RedisStore) ListModerators(ctx context.Context, streamID string) ([]models.ModeratorAssignment, error) {
	accountIDs, err := s.client.SMembers(ctx, redisModeratorStream+streamID).Result()
	if err != nil {
		return nil, redisInfra(err, "list moderators")
	}
	assignments := make([]models.ModeratorAssignment, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		var assignment models.ModeratorAssignment
		found, err := getJSON(ctx, s.client, redisModeratorPrefix+presenceMember(streamID, accountID), &assignment)
		if err != nil {
			return nil, redisInfra(err, "get moderator")
		}
		if found {
			assignments = append(assignments, assignment)
		}
	}
	return assignments, nil
}

func (s *RedisStore) DeleteModerators(ctx context.Context, streamID string) error {
	accountIDs, err := s.client.SMembers(ctx, redisModeratorStream+streamID).Result()
	if err != nil {
		return redisInfra(err, "list moderators")
	}
	pipe := s.client.Pipeline()
	for _, accountID := range accountIDs {
		pipe.Del(ctx, redisModeratorPrefix+presenceMember(streamID, accountID))
	}
	pipe.Del(ctx, redisModeratorStream+streamID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "delete moderators")
	}
	return nil
}

func (s *RedisStore) AppendModerationEntry(ctx context.Context, entry models.ModerationLogEntry) error {
	created, err := s.client.SetNX(ctx, redisModLogPrefix+entry.ID, mustJSON(entry), 0).Result()
	if err != nil {
		return redisInfra(err, "append moderation entry")
	}
	if !created {
		return fault.Conflict("log entry %s already exists", entry.ID)
	}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, redisModLogStream+entry.StreamID, redis.Z{Score: float64(entry.CreatedAt.UnixNano()), Member: entry.ID})
	if entry.PurgeAfter != nil {
		pipe.ZAdd(ctx, redisModLogExpiry, redis.Z{Score: float64(entry.PurgeAfter.Unix()), Member: entry.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "index moderation entry")
	}
	return nil
}

func (s *RedisStore) getModerationEntry(ctx context.Context, id string) (models.ModerationLogEntry, bool, error) {
	var entry models.ModerationLogEntry
	found, err := getJSON(ctx, s.client, redisModLogPrefix+id, &entry)
	if err != nil {
		return models.ModerationLogEntry{}, false, redisInfra(err, "get moderation entry")
	}
	return entry, found, nil
}

func (s *RedisStore) ListModerationEntries(ctx context.Context, streamID string, limit int) ([]models.ModerationLogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	ids, err := s.client.ZRevRange(ctx, redisModLogStream+streamID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, redisInfra(err, "list moderation entries")
	}
	entries := make([]models.ModerationLogEntry, 0, len(ids))
	for _, id := range ids {
		entry, found, err := s.getModerationEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *RedisStore) ListExpiredModerationEntries(ctx context.Context, before time.Time, limit int) ([]models.ModerationLogEntry, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisModLogExpiry, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("(%d", before.Unix()), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, redisInfra(err, "scan moderation expiry")
	}
	entries := make([]models.ModerationLogEntry, 0, len(ids))
	for _, id := range ids {
		entry, found, err := s.getModerationEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			s.client.ZRem(ctx, redisModLogExpiry, id)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) DeleteModerationEntry(ctx context.Context, id string) error {
	entry, found, err := s.getModerationEntry(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisModLogPrefix+id)
	pipe.ZRem(ctx, redisModLogStream+entry.StreamID, id)
	pipe.ZRem(ctx, redisModLogExpiry, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisInfra(err, "delete moderation entry")
	}
	return nil
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	found, err := getJSON(ctx, s.client, redisRoomPrefix+roomID, &room)
	if err != nil {
		return models.Room{}, redisInfra(err, "get room")
	}
	if !found {
		return models.Room{}, fault.NotFound("room %s not found", roomID)
	}
	return room, nil
}

func (s *RedisStore) PutRoom(ctx context.Context, room models.Room) error {
	if err := s.client.Set(ctx, redisRoomPrefix+room.ID, mustJSON(room), 0).Err(); err != nil {
		return redisInfra(err, "put room")
	}
	return nil
}
