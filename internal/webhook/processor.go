package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"pulsecast/internal/fault"
	"pulsecast/internal/models"
	"pulsecast/internal/store"
)

// Event kinds emitted by the ingestion platform. Anything else is logged and
// ignored so new platform event types never break delivery.
const (
	EventStreamActive = "stream.active"
	EventStreamIdle   = "stream.idle"
	EventAssetReady   = "asset.ready"
)

// Event is the decoded callback payload. The platform keys everything by its
// own opaque ingest reference, never by the caller-visible stream id.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the event-specific fields the core consumes.
type EventData struct {
	IngestID string `json:"ingestId"`
	AssetID  string `json:"assetId,omitempty"`
}

// ParseEvent decodes a raw callback body.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fault.Validation("malformed event payload")
	}
	if event.Type == "" {
		return Event{}, fault.Validation("event type is required")
	}
	return Event{Type: event.Type, Data: event.Data}, nil
}

// PresenceCloser detaches all active viewers of a stream when the platform
// reports the broadcast halted.
type PresenceCloser interface {
	DeactivateAll(ctx context.Context, streamID string) (int, error)
}

// Processor maps platform events onto session state transitions.
type Processor struct {
	store     store.Store
	presences PresenceCloser
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor wires an event processor. The presence closer may be nil in
// setups that track viewers elsewhere.
func NewProcessor(st store.Store, presences PresenceCloser, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     st,
		presences: presences,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// Apply dispatches one verified event. Duplicate deliveries are no-ops, a
// lookup miss is logged and swallowed (the platform may emit events for
// test or orphaned streams), and unknown kinds are ignored.
func (p *Processor) Apply(ctx context.Context, event Event) error {
	session, err := p.store.GetSessionByIngestID(ctx, event.Data.IngestID)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			p.logger.Info("webhook for unknown ingest reference", "event_type", event.Type, "ingest_id", event.Data.IngestID)
			return nil
		}
		return err
	}

	switch event.Type {
	case EventStreamActive:
		return p.applyActivation(ctx, session)
	case EventStreamIdle:
		return p.applyHalt(ctx, session)
	case EventAssetReady:
		return p.applyAssetReady(ctx, session, event.Data.AssetID)
	default:
		p.logger.Info("unhandled webhook event kind", "event_type", event.Type, "stream_id", session.ID)
		return nil
	}
}

func (p *Processor) applyActivation(ctx context.Context, session models.LiveStreamSession) error {
	if session.Status == models.StatusActive {
		// Duplicate delivery; startedAt keeps its original value.
		return nil
	}
	if session.Status == models.StatusDisabled {
		p.logger.Warn("activation for disabled session ignored", "stream_id", session.ID)
		return nil
	}
	now := p.now()
	active := models.StatusActive
	_, swapped, err := p.store.UpdateSessionIfStatus(ctx, session.ID, models.StatusIdle, store.SessionUpdate{
		Status:    &active,
		StartedAt: &now,
	})
	if err != nil {
		return err
	}
	if !swapped {
		// Another writer moved the session first; the next delivery will see
		// the settled state.
		return nil
	}
	p.logger.Info("session activated", "stream_id", session.ID)
	return nil
}

func (p *Processor) applyHalt(ctx context.Context, session models.LiveStreamSession) error {
	if session.Status != models.StatusActive {
		// Already idle or disabled; halt is idempotent. A halt delivered
		// before its activation lands here and leaves the record untouched,
		// so the activation can still apply when it arrives.
		return nil
	}
	now := p.now()
	idle := models.StatusIdle
	zero := 0
	_, swapped, err := p.store.UpdateSessionIfStatus(ctx, session.ID, models.StatusActive, store.SessionUpdate{
		Status:      &idle,
		EndedAt:     &now,
		ViewerCount: &zero,
	})
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}
	if p.presences != nil {
		if _, err := p.presences.DeactivateAll(ctx, session.ID); err != nil {
			p.logger.Error("detach viewers on halt", "stream_id", session.ID, "error", err)
		}
	}
	p.logger.Info("session halted", "stream_id", session.ID)
	return nil
}

func (p *Processor) applyAssetReady(ctx context.Context, session models.LiveStreamSession, assetID string) error {
	if assetID == "" {
		p.logger.Warn("asset-ready event without asset reference", "stream_id", session.ID)
		return nil
	}
	_, err := p.store.UpdateSession(ctx, session.ID, store.SessionUpdate{AssetID: &assetID})
	if err != nil {
		return err
	}
	p.logger.Info("asset linked for replay", "stream_id", session.ID, "asset_id", assetID)
	return nil
}
