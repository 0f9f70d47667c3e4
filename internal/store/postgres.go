package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
)

// PostgresConfig configures the pooled Postgres store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
	ApplicationName string
}

// PostgresStore implements Store on a pgx connection pool. Conditional
// updates and counter adjustments are expressed as single guarded UPDATE
// statements so row-level locking gives the same semantics as the managed
// store's compare-and-swap primitives.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens the pool, verifies connectivity, and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close drains the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stream_sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		ingest_id TEXT NOT NULL,
		ingest_key TEXT NOT NULL,
		playback_id TEXT NOT NULL,
		asset_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		viewer_count INTEGER NOT NULL DEFAULT 0,
		peak_viewer_count INTEGER NOT NULL DEFAULT 0,
		total_views INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		purge_after TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stream_sessions_ingest_idx ON stream_sessions (ingest_id)`,
	`CREATE INDEX IF NOT EXISTS stream_sessions_room_idx ON stream_sessions (room_id)`,
	`CREATE INDEX IF NOT EXISTS stream_sessions_owner_idx ON stream_sessions (owner_id)`,
	`CREATE INDEX IF NOT EXISTS stream_sessions_purge_idx ON stream_sessions (purge_after) WHERE purge_after IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS viewer_presences (
		stream_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		last_ping_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ,
		watch_seconds BIGINT NOT NULL DEFAULT 0,
		total_rejoins INTEGER NOT NULL DEFAULT 0,
		purge_after TIMESTAMPTZ,
		PRIMARY KEY (stream_id, account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS viewer_presences_ping_idx ON viewer_presences (last_ping_at) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS viewer_presences_purge_idx ON viewer_presences (purge_after) WHERE purge_after IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS moderator_assignments (
		stream_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		assigned_by TEXT NOT NULL,
		assigned_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (stream_id, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS moderation_log (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		purge_after TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS moderation_log_stream_idx ON moderation_log (stream_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS moderation_log_purge_idx ON moderation_log (purge_after) WHERE purge_after IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		moderator_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fault.Infrastructure(err, "postgres ping")
	}
	return nil
}

func pgInfra(err error, op string) error {
	return fault.Infrastructure(err, "postgres %s", op)
}

const sessionColumns = `id, owner_id, room_id, title, description, ingest_id, ingest_key, playback_id, asset_id,
	status, viewer_count, peak_viewer_count, total_views, started_at, ended_at, is_deleted, purge_after,
	created_at, updated_at`

func scanSession(row pgx.Row) (models.LiveStreamSession, error) {
	var session models.LiveStreamSession
	var status string
	err := row.Scan(
		&session.ID, &session.OwnerID, &session.RoomID, &session.Title, &session.Description,
		&session.IngestID, &session.IngestKey, &session.PlaybackID, &session.AssetID,
		&status, &session.ViewerCount, &session.PeakViewerCount, &session.TotalViews,
		&session.StartedAt, &session.EndedAt, &session.IsDeleted, &session.PurgeAfter,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return models.LiveStreamSession{}, err
	}
	session.Status = models.SessionStatus(status)
	return session, nil
}

func (s *PostgresStore) getSessionBy(ctx context.Context, column, value string) (models.LiveStreamSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE `+column+` = $1`, value)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LiveStreamSession{}, fault.NotFound("session not found")
	}
	if err != nil {
		return models.LiveStreamSession{}, pgInfra(err, "get session")
	}
	return session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, streamID string) (models.LiveStreamSession, error) {
	return s.getSessionBy(ctx, "id", streamID)
}

func (s *PostgresStore) GetSessionByIngestID(ctx context.Context, ingestID string) (models.LiveStreamSession, error) {
	return s.getSessionBy(ctx, "ingest_id", ingestID)
}

func (s *PostgresStore) PutSessionIfAbsent(ctx context.Context, session models.LiveStreamSession) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO stream_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING`,
		session.ID, session.OwnerID, session.RoomID, session.Title, session.Description,
		session.IngestID, session.IngestKey, session.PlaybackID, session.AssetID,
		string(session.Status), session.ViewerCount, session.PeakViewerCount, session.TotalViews,
		session.StartedAt, session.EndedAt, session.IsDeleted, session.PurgeAfter,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return pgInfra(err, "insert session")
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("session %s already exists", session.ID)
	}
	return nil
}

func sessionUpdateClauses(update SessionUpdate, now time.Time) (string, []any) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.AssetID != nil {
		add("asset_id", *update.AssetID)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.EndedAt != nil {
		add("ended_at", *update.EndedAt)
	}
	if update.ViewerCount != nil {
		add("viewer_count", *update.ViewerCount)
	}
	if update.IsDeleted != nil {
		add("is_deleted", *update.IsDeleted)
	}
	if update.PurgeAfter != nil {
		add("purge_after", *update.PurgeAfter)
	}
	add("updated_at", now.UTC())
	return strings.Join(clauses, ", "), args
}

func (s *PostgresStore) UpdateSessionIfStatus(ctx context.Context, streamID string, expect models.SessionStatus, update SessionUpdate) (models.LiveStreamSession, bool, error) {
	set, args := sessionUpdateClauses(update, time.Now())
	args = append(args, streamID, string(expect))
	query := fmt.Sprintf(`UPDATE stream_sessions SET %s WHERE id = $%d AND status = $%d RETURNING `+sessionColumns,
		set, len(args)-1, len(args))
	session, err := scanSession(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return session, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.LiveStreamSession{}, false, pgInfra(err, "conditional update session")
	}
	// The guard lost. Surface the current record so callers can report the
	// conflicting state, or not-found when the row is gone.
	current, getErr := s.GetSession(ctx, streamID)
	if getErr != nil {
		return models.LiveStreamSession{}, false, getErr
	}
	return current, false, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, streamID string, update SessionUpdate) (models.LiveStreamSession, error) {
	set, args := sessionUpdateClauses(update, time.Now())
	args = append(args, streamID)
	query := fmt.Sprintf(`UPDATE stream_sessions SET %s WHERE id = $%d RETURNING `+sessionColumns, set, len(args))
	session, err := scanSession(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	if err != nil {
		return models.LiveStreamSession{}, pgInfra(err, "update session")
	}
	return session, nil
}

func (s *PostgresStore) AddSessionCounters(ctx context.Context, streamID string, viewerDelta, viewsDelta int) (models.LiveStreamSession, error) {
	row := s.pool.QueryRow(ctx, `UPDATE stream_sessions
		SET viewer_count = GREATEST(viewer_count + $2, 0),
		    total_views = total_views + $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+sessionColumns, streamID, viewerDelta, viewsDelta)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LiveStreamSession{}, fault.NotFound("session %s not found", streamID)
	}
	if err != nil {
		return models.LiveStreamSession{}, pgInfra(err, "adjust session counters")
	}
	return session, nil
}

func (s *PostgresStore) SwapSessionPeak(ctx context.Context, streamID string, expect, next int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE stream_sessions
		SET peak_viewer_count = $3, updated_at = NOW()
		WHERE id = $1 AND peak_viewer_count = $2`, streamID, expect, next)
	if err != nil {
		return false, pgInfra(err, "swap session peak")
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, streamID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.LiveStreamSession, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)
	where := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.RoomID != "" {
		where("room_id = $%d", filter.RoomID)
	}
	if filter.OwnerID != "" {
		where("owner_id = $%d", filter.OwnerID)
	}
	if filter.Status != nil {
		where("status = $%d", string(*filter.Status))
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "NOT is_deleted")
	}
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		where("id < $%d", cursor)
	}
	query := `SELECT ` + sessionColumns + ` FROM stream_sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", pgInfra(err, "list sessions")
	}
	defer rows.Close()

	sessions := make([]models.LiveStreamSession, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, "", pgInfra(err, "scan session")
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, "", pgInfra(err, "list sessions")
	}
	next := ""
	if len(sessions) > limit {
		sessions = sessions[:limit]
		next = sessions[limit-1].ID
	}
	return sessions, next, nil
}

func (s *PostgresStore) ListExpiredSessions(ctx context.Context, before time.Time, limit int) ([]models.LiveStreamSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM stream_sessions
		WHERE purge_after IS NOT NULL AND purge_after < $1
		ORDER BY purge_after LIMIT $2`, before.UTC(), limit)
	if err != nil {
		return nil, pgInfra(err, "list expired sessions")
	}
	defer rows.Close()
	sessions := make([]models.LiveStreamSession, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, pgInfra(err, "scan session")
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, streamID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM stream_sessions WHERE id = $1`, streamID); err != nil {
		return pgInfra(err, "delete session")
	}
	return nil
}

const presenceColumns = `stream_id, account_id, is_active, joined_at, last_ping_at, left_at, watch_seconds, total_rejoins, purge_after`

func scanPresence(row pgx.Row) (models.ViewerPresence, error) {
	var presence models.ViewerPresence
	err := row.Scan(
		&presence.StreamID, &presence.AccountID, &presence.IsActive,
		&presence.JoinedAt, &presence.LastPingAt, &presence.LeftAt,
		&presence.WatchSeconds, &presence.TotalRejoins, &presence.PurgeAfter,
	)
	return presence, err
}

func (s *PostgresStore) GetPresence(ctx context.Context, streamID, accountID string) (models.ViewerPresence, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+presenceColumns+` FROM viewer_presences
		WHERE stream_id = $1 AND account_id = $2`, streamID, accountID)
	presence, err := scanPresence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ViewerPresence{}, fault.NotFound("presence not found")
	}
	if err != nil {
		return models.ViewerPresence{}, pgInfra(err, "get presence")
	}
	return presence, nil
}

func (s *PostgresStore) PutPresenceIfAbsent(ctx context.Context, presence models.ViewerPresence) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO viewer_presences (`+presenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (stream_id, account_id) DO NOTHING`,
		presence.StreamID, presence.AccountID, presence.IsActive,
		presence.JoinedAt, presence.LastPingAt, presence.LeftAt,
		presence.WatchSeconds, presence.TotalRejoins, presence.PurgeAfter,
	)
	if err != nil {
		return pgInfra(err, "insert presence")
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("presence already exists")
	}
	return nil
}

func (s *PostgresStore) ActivatePresenceIfInactive(ctx context.Context, streamID, accountID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE viewer_presences
		SET is_active = TRUE, joined_at = $3, last_ping_at = $3, left_at = NULL,
		    purge_after = NULL, total_rejoins = total_rejoins + 1
		WHERE stream_id = $1 AND account_id = $2 AND NOT is_active`,
		streamID, accountID, now.UTC())
	if err != nil {
		return false, pgInfra(err, "activate presence")
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetPresence(ctx, streamID, accountID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) DeactivatePresenceIfActive(ctx context.Context, streamID, accountID string, leftAt, purgeAfter time.Time) (models.ViewerPresence, bool, error) {
	row := s.pool.QueryRow(ctx, `UPDATE viewer_presences
		SET is_active = FALSE, left_at = $3, purge_after = $4,
		    watch_seconds = watch_seconds + GREATEST(EXTRACT(EPOCH FROM ($3::timestamptz - joined_at))::bigint, 0)
		WHERE stream_id = $1 AND account_id = $2 AND is_active
		RETURNING `+presenceColumns, streamID, accountID, leftAt.UTC(), purgeAfter.UTC())
	presence, err := scanPresence(row)
	if err == nil {
		return presence, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.ViewerPresence{}, false, pgInfra(err, "deactivate presence")
	}
	current, getErr := s.GetPresence(ctx, streamID, accountID)
	if getErr != nil {
		return models.ViewerPresence{}, false, getErr
	}
	return current, false, nil
}

func (s *PostgresStore) TouchPresence(ctx context.Context, streamID, accountID string, pingAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE viewer_presences SET last_ping_at = $3
		WHERE stream_id = $1 AND account_id = $2`, streamID, accountID, pingAt.UTC())
	if err != nil {
		return pgInfra(err, "touch presence")
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("presence not found")
	}
	return nil
}

func (s *PostgresStore) listPresencesQuery(ctx context.Context, query string, args ...any) ([]models.ViewerPresence, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgInfra(err, "list presences")
	}
	defer rows.Close()
	presences := make([]models.ViewerPresence, 0)
	for rows.Next() {
		presence, err := scanPresence(rows)
		if err != nil {
			return nil, pgInfra(err, "scan presence")
		}
		presences = append(presences, presence)
	}
	return presences, rows.Err()
}

func (s *PostgresStore) ListPresences(ctx context.Context, streamID string, activeOnly bool) ([]models.ViewerPresence, error) {
	query := `SELECT ` + presenceColumns + ` FROM viewer_presences WHERE stream_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	return s.listPresencesQuery(ctx, query+` ORDER BY joined_at`, streamID)
}

func (s *PostgresStore) ListStalePresences(ctx context.Context, lastPingBefore time.Time, limit int) ([]models.ViewerPresence, error) {
	return s.listPresencesQuery(ctx, `SELECT `+presenceColumns+` FROM viewer_presences
		WHERE is_active AND last_ping_at < $1 ORDER BY last_ping_at LIMIT $2`,
		lastPingBefore.UTC(), limit)
}

func (s *PostgresStore) ListExpiredPresences(ctx context.Context, before time.Time, limit int) ([]models.ViewerPresence, error) {
	return s.listPresencesQuery(ctx, `SELECT `+presenceColumns+` FROM viewer_presences
		WHERE NOT is_active AND purge_after IS NOT NULL AND purge_after < $1
		ORDER BY purge_after LIMIT $2`, before.UTC(), limit)
}

func (s *PostgresStore) DeletePresence(ctx context.Context, streamID, accountID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM viewer_presences
		WHERE stream_id = $1 AND account_id = $2`, streamID, accountID); err != nil {
		return pgInfra(err, "delete presence")
	}
	return nil
}

func (s *PostgresStore) PutModeratorIfAbsent(ctx context.Context, assignment models.ModeratorAssignment) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO moderator_assignments (stream_id, account_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (stream_id, account_id) DO NOTHING`,
		assignment.StreamID, assignment.AccountID, assignment.AssignedBy, assignment.AssignedAt)
	if err != nil {
		return pgInfra(err, "insert moderator")
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("account %s is already a moderator", assignment.AccountID)
	}
	return nil
}

func (s *PostgresStore) IsModerator(ctx context.Context, streamID, accountID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM moderator_assignments
		WHERE stream_id = $1 AND account_id = $2)`, streamID, accountID).Scan(&exists)
	if err != nil {
		return false, pgInfra(err, "check moderator")
	}
	return exists, nil
}

func (s *PostgresStore) ListModerators(ctx context.Context, streamID string) ([]models.ModeratorAssignment, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream_id, account_id, assigned_by, assigned_at
		FROM moderator_assignments WHERE stream_id = $1 ORDER BY assigned_at`, streamID)
	if err != nil {
		return nil, pgInfra(err, "list moderators")
	}
	defer rows.Close()
	assignments := make([]models.ModeratorAssignment, 0)
	for rows.Next() {
		var assignment models.ModeratorAssignment
		if err := rows.Scan(&assignment.StreamID, &assignment.AccountID, &assignment.AssignedBy, &assignment.AssignedAt); err != nil {
			return nil, pgInfra(err, "scan moderator")
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

func (s *PostgresStore) DeleteModerators(ctx context.Context, streamID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM moderator_assignments WHERE stream_id = $1`, streamID); err != nil {
		return pgInfra(err, "delete moderators")
	}
	return nil
}

const logColumns = `id, stream_id, actor_id, action, target_id, reason, created_at, purge_after`

func scanLogEntry(row pgx.Row) (models.ModerationLogEntry, error) {
	var entry models.ModerationLogEntry
	err := row.Scan(&entry.ID, &entry.StreamID, &entry.ActorID, &entry.Action,
		&entry.TargetID, &entry.Reason, &entry.CreatedAt, &entry.PurgeAfter)
	return entry, err
}

func (s *PostgresStore) AppendModerationEntry(ctx context.Context, entry models.ModerationLogEntry) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO moderation_log (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.StreamID, entry.ActorID, entry.Action,
		entry.TargetID, entry.Reason, entry.CreatedAt, entry.PurgeAfter)
	if err != nil {
		return pgInfra(err, "append moderation entry")
	}
	if tag.RowsAffected() == 0 {
		return fault.Conflict("log entry %s already exists", entry.ID)
	}
	return nil
}

func (s *PostgresStore) listLogEntries(ctx context.Context, query string, args ...any) ([]models.ModerationLogEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgInfra(err, "list moderation entries")
	}
	defer rows.Close()
	entries := make([]models.ModerationLogEntry, 0)
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, pgInfra(err, "scan moderation entry")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListModerationEntries(ctx context.Context, streamID string, limit int) ([]models.ModerationLogEntry, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return s.listLogEntries(ctx, `SELECT `+logColumns+` FROM moderation_log
		WHERE stream_id = $1 ORDER BY created_at DESC LIMIT $2`, streamID, limit)
}

func (s *PostgresStore) ListExpiredModerationEntries(ctx context.Context, before time.Time, limit int) ([]models.ModerationLogEntry, error) {
	return s.listLogEntries(ctx, `SELECT `+logColumns+` FROM moderation_log
		WHERE purge_after IS NOT NULL AND purge_after < $1
		ORDER BY purge_after LIMIT $2`, before.UTC(), limit)
}

func (s *PostgresStore) DeleteModerationEntry(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM moderation_log WHERE id = $1`, id); err != nil {
		return pgInfra(err, "delete moderation entry")
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id, title, moderator_ids, created_at
		FROM rooms WHERE id = $1`, roomID).
		Scan(&room.ID, &room.OwnerID, &room.Title, &room.ModeratorIDs, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Room{}, fault.NotFound("room %s not found", roomID)
	}
	if err != nil {
		return models.Room{}, pgInfra(err, "get room")
	}
	return room, nil
}

func (s *PostgresStore) PutRoom(ctx context.Context, room models.Room) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO rooms (id, owner_id, title, moderator_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, title = EXCLUDED.title,
			moderator_ids = EXCLUDED.moderator_ids`,
		room.ID, room.OwnerID, room.Title, room.ModeratorIDs, room.CreatedAt)
	if err != nil {
		return pgInfra(err, "put room")
	}
	return nil
}
