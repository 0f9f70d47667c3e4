package models

import (
	"strings"
	"time"
)

// SessionStatus tracks where a live session sits in its lifecycle. Sessions
// move idle -> active -> idle as the ingestion platform observes the
// broadcast, and idle -> disabled when the owner deletes them. A disabled
// session never comes back.
type SessionStatus string

const (
	StatusIdle     SessionStatus = "idle"
	StatusActive   SessionStatus = "active"
	StatusDisabled SessionStatus = "disabled"
)

// ParseSessionStatus normalises a status string, reporting whether it names a
// known lifecycle state.
func ParseSessionStatus(value string) (SessionStatus, bool) {
	switch SessionStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusIdle:
		return StatusIdle, true
	case StatusActive:
		return StatusActive, true
	case StatusDisabled:
		return StatusDisabled, true
	default:
		return "", false
	}
}

// CanTransition reports whether the session state machine permits moving from
// one status to another. Activation and the return to idle are owned by the
// platform callbacks; disabling is owner-driven and only valid from idle.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case StatusIdle:
		return to == StatusActive || to == StatusDisabled
	case StatusActive:
		return to == StatusIdle
	default:
		return false
	}
}

// LiveStreamSession is one broadcast record from creation to disablement.
// IngestKey is returned to the owner once at creation time and omitted from
// list responses.
type LiveStreamSession struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"ownerId"`
	RoomID          string        `json:"roomId"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	IngestID        string        `json:"ingestId"`
	IngestKey       string        `json:"ingestKey,omitempty"`
	PlaybackID      string        `json:"playbackId"`
	AssetID         string        `json:"assetId,omitempty"`
	Status          SessionStatus `json:"status"`
	ViewerCount     int           `json:"viewerCount"`
	PeakViewerCount int           `json:"peakViewerCount"`
	TotalViews      int           `json:"totalViews"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	IsDeleted       bool          `json:"isDeleted"`
	PurgeAfter      *time.Time    `json:"purgeAfter,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ViewerPresence records one viewer watching one session. At most one row per
// (stream, account) pair is active at a time.
type ViewerPresence struct {
	StreamID     string     `json:"streamId"`
	AccountID    string     `json:"accountId"`
	IsActive     bool       `json:"isActive"`
	JoinedAt     time.Time  `json:"joinedAt"`
	LastPingAt   time.Time  `json:"lastPingAt"`
	LeftAt       *time.Time `json:"leftAt,omitempty"`
	WatchSeconds int64      `json:"watchSeconds"`
	TotalRejoins int        `json:"totalRejoins"`
	PurgeAfter   *time.Time `json:"purgeAfter,omitempty"`
}

// ModeratorAssignment grants moderation authority over one stream. Only the
// stream owner creates assignments; their lifetime is bound to the stream.
type ModeratorAssignment struct {
	StreamID   string    `json:"streamId"`
	AccountID  string    `json:"accountId"`
	AssignedBy string    `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
}

// ModerationLogEntry is an immutable audit record of a moderation decision.
// Enforcement (disconnecting the target, muting chat) belongs to the
// real-time transport, which consults this log.
type ModerationLogEntry struct {
	ID         string     `json:"id"`
	StreamID   string     `json:"streamId"`
	ActorID    string     `json:"actorId"`
	Action     string     `json:"action"`
	TargetID   string     `json:"targetId"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	PurgeAfter *time.Time `json:"purgeAfter,omitempty"`
}

// ActionBan is the moderation action kind recorded when an account is banned
// from a stream.
const ActionBan = "ban"

// Room is the minimal collaborator record the session core needs to answer
// "may this caller broadcast here".
type Room struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Title        string    `json:"title"`
	ModeratorIDs []string  `json:"moderatorIds,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AllowsBroadcast reports whether the account owns or moderates the room.
func (r Room) AllowsBroadcast(accountID string) bool {
	if r.OwnerID == accountID {
		return true
	}
	for _, id := range r.ModeratorIDs {
		if id == accountID {
			return true
		}
	}
	return false
}
