// Package ingeststub hosts a deterministic HTTP fake of the ingestion
// platform control plane. Tests point the REST adapter at it to assert
// create/delete calls, retries, and failure handling without touching the
// network.
package ingeststub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake platform behaves.
type Options struct {
	// IngestID, IngestKey, and PlaybackID are returned from the create
	// endpoint. Empty values fall back to generated defaults.
	IngestID   string
	IngestKey  string
	PlaybackID string

	// FailCreates causes the first N create requests to return HTTP 503.
	// Subsequent attempts succeed.
	FailCreates int

	// FailDeletes causes the first N delete requests to return HTTP 502.
	FailDeletes int

	// Token, when set, is required as a bearer credential on every request.
	Token string
}

// Operation is one recorded control-plane interaction.
type Operation struct {
	Kind      string
	IngestID  string
	Status    int
	Timestamp time.Time
}

// Platform hosts an httptest.Server serving the live-stream endpoints.
type Platform struct {
	opts Options

	mu         sync.Mutex
	creates    int
	deletes    int
	operations []Operation
	server     *httptest.Server
}

// New starts the fake platform. Callers must Close it.
func New(opts Options) *Platform {
	p := &Platform{opts: opts}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// URL is the base URL for the REST adapter.
func (p *Platform) URL() string {
	return p.server.URL
}

// Close shuts the underlying server down.
func (p *Platform) Close() {
	p.server.Close()
}

// Operations returns a copy of every recorded interaction in order.
func (p *Platform) Operations() []Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Operation(nil), p.operations...)
}

// CreateCount reports how many create requests arrived.
func (p *Platform) CreateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// DeleteCount reports how many delete requests arrived.
func (p *Platform) DeleteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deletes
}

func (p *Platform) record(kind, ingestID string, status int) {
	p.operations = append(p.operations, Operation{
		Kind:      kind,
		IngestID:  ingestID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

func (p *Platform) handle(w http.ResponseWriter, r *http.Request) {
	if p.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+p.opts.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/live-streams":
		p.handleCreate(w)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/live-streams/"):
		p.handleDelete(w, strings.TrimPrefix(r.URL.Path, "/v1/live-streams/"))
	default:
		http.NotFound(w, r)
	}
}

func (p *Platform) handleCreate(w http.ResponseWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.creates <= p.opts.FailCreates {
		p.record("create", "", http.StatusServiceUnavailable)
		http.Error(w, "platform unavailable", http.StatusServiceUnavailable)
		return
	}
	ingestID := p.opts.IngestID
	if ingestID == "" {
		ingestID = fmt.Sprintf("ing-%04d", p.creates)
	}
	ingestKey := p.opts.IngestKey
	if ingestKey == "" {
		ingestKey = fmt.Sprintf("key-%04d", p.creates)
	}
	playbackID := p.opts.PlaybackID
	if playbackID == "" {
		playbackID = fmt.Sprintf("play-%04d", p.creates)
	}
	p.record("create", ingestID, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"ingestId":   ingestID,
		"ingestKey":  ingestKey,
		"playbackId": playbackID,
	})
}

func (p *Platform) handleDelete(w http.ResponseWriter, ingestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	if p.deletes <= p.opts.FailDeletes {
		p.record("delete", ingestID, http.StatusBadGateway)
		http.Error(w, "platform unavailable", http.StatusBadGateway)
		return
	}
	p.record("delete", ingestID, http.StatusOK)
	w.WriteHeader(http.StatusNoContent)
}
