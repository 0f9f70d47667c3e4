// Package ingest talks to the external video-ingestion platform. The
// platform owns ingest credentials and is the authority on whether a
// broadcast is live; the session core only provisions and tears down ingest
// objects and receives signed lifecycle callbacks (handled in
// internal/webhook).
package ingest

import (
	"context"
	"errors"
)

// ErrUnavailable marks a platform call that failed after exhausting
// retries. Callers surface it as a retryable infrastructure error.
var ErrUnavailable = errors.New("ingestion platform unavailable")

// Credentials is the provisioning result for one broadcast: the platform's
// opaque stream reference, the secret the encoder publishes with, and the
// public playback reference.
type Credentials struct {
	IngestID   string `json:"ingestId"`
	IngestKey  string `json:"ingestKey"`
	PlaybackID string `json:"playbackId"`
}

// Controller provisions and tears down platform ingest objects.
type Controller interface {
	CreateIngest(ctx context.Context) (Credentials, error)
	DeleteIngest(ctx context.Context, ingestID string) error
}
