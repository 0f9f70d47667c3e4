package api

import (
	"time"

	"pulsecast/internal/models"
)

// sessionResponse is the public shape of a live-stream session. The ingest
// key is only present in the create response; it is the broadcast secret and
// is never listed afterwards.
type sessionResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	RoomID          string     `json:"roomId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	IngestID        string     `json:"ingestId"`
	IngestKey       string     `json:"ingestKey,omitempty"`
	PlaybackID      string     `json:"playbackId"`
	AssetID         string     `json:"assetId,omitempty"`
	Status          string     `json:"status"`
	ViewerCount     int        `json:"viewerCount"`
	PeakViewerCount int        `json:"peakViewerCount"`
	TotalViews      int        `json:"totalViews"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func newSessionResponse(session models.LiveStreamSession, includeIngestKey bool) sessionResponse {
	response := sessionResponse{
		ID:              session.ID,
		OwnerID:         session.OwnerID,
		RoomID:          session.RoomID,
		Title:           session.Title,
		Description:     session.Description,
		IngestID:        session.IngestID,
		PlaybackID:      session.PlaybackID,
		AssetID:         session.AssetID,
		Status:          string(session.Status),
		ViewerCount:     session.ViewerCount,
		PeakViewerCount: session.PeakViewerCount,
		TotalViews:      session.TotalViews,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
		CreatedAt:       session.CreatedAt,
	}
	if includeIngestKey {
		response.IngestKey = session.IngestKey
	}
	return response
}

type sessionListResponse struct {
	Sessions   []sessionResponse `json:"sessions"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

func newSessionListResponse(sessions []models.LiveStreamSession, next string) sessionListResponse {
	response := sessionListResponse{Sessions: make([]sessionResponse, 0, len(sessions)), NextCursor: next}
	for _, session := range sessions {
		response.Sessions = append(response.Sessions, newSessionResponse(session, false))
	}
	return response
}

type moderatorResponse struct {
	StreamID   string    `json:"streamId"`
	AccountID  string    `json:"accountId"`
	AssignedBy string    `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
}

func newModeratorResponse(assignment models.ModeratorAssignment) moderatorResponse {
	return moderatorResponse{
		StreamID:   assignment.StreamID,
		AccountID:  assignment.AccountID,
		AssignedBy: assignment.AssignedBy,
		AssignedAt: assignment.AssignedAt,
	}
}

type logEntryResponse struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"streamId"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	TargetID  string    `json:"targetId"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newLogEntryResponse(entry models.ModerationLogEntry) logEntryResponse {
	return logEntryResponse{
		ID:        entry.ID,
		StreamID:  entry.StreamID,
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		TargetID:  entry.TargetID,
		Reason:    entry.Reason,
		CreatedAt: entry.CreatedAt,
	}
}
