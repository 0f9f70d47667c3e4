// Package metrics aggregates in-memory counters for HTTP traffic, session
// lifecycle events, viewer movement, and webhook deliveries, exported in
// Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder accumulates counters behind a RWMutex; the viewer gauge uses an
// atomic so join/leave hot paths avoid the lock.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	streamEvents    map[string]uint64
	webhookEvents   map[string]uint64
	webhookRejected uint64
	banCount        uint64
	activeViewers   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		streamEvents:    make(map[string]uint64),
		webhookEvents:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by the package-level
// helpers.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

func (r *Recorder) streamEvent(event string) {
	r.mu.Lock()
	r.streamEvents[event]++
	r.mu.Unlock()
}

// StreamCreated records a session provisioned against the platform.
func (r *Recorder) StreamCreated() { r.streamEvent("created") }

// StreamActivated records a platform-driven activation.
func (r *Recorder) StreamActivated() { r.streamEvent("activated") }

// StreamEnded records a broadcast halt, owner- or platform-driven.
func (r *Recorder) StreamEnded() { r.streamEvent("ended") }

// StreamDeleted records a logical delete.
func (r *Recorder) StreamDeleted() { r.streamEvent("deleted") }

// ViewerJoined bumps the join counter and the active viewer gauge.
func (r *Recorder) ViewerJoined() {
	r.streamEvent("viewer_join")
	r.activeViewers.Add(1)
}

// ViewerLeft bumps the leave counter and decrements the gauge, guarding
// against going negative when leaves race halts.
func (r *Recorder) ViewerLeft() {
	r.streamEvent("viewer_leave")
	for {
		current := r.activeViewers.Load()
		if current <= 0 {
			return
		}
		if r.activeViewers.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// BanRecorded counts moderation log appends.
func (r *Recorder) BanRecorded() {
	r.mu.Lock()
	r.banCount++
	r.mu.Unlock()
}

// WebhookProcessed counts accepted platform callbacks by event kind.
func (r *Recorder) WebhookProcessed(eventType string) {
	normalized := strings.ToLower(strings.TrimSpace(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.webhookEvents[normalized]++
	r.mu.Unlock()
}

// WebhookRejected counts deliveries dropped at the signature boundary.
func (r *Recorder) WebhookRejected() {
	r.mu.Lock()
	r.webhookRejected++
	r.mu.Unlock()
}

// ActiveViewers exposes the current gauge value.
func (r *Recorder) ActiveViewers() int64 {
	return r.activeViewers.Load()
}

// Reset clears all counters and gauges; for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.streamEvents = make(map[string]uint64)
	r.webhookEvents = make(map[string]uint64)
	r.webhookRejected = 0
	r.banCount = 0
	r.mu.Unlock()
	r.activeViewers.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with sorted label sets for stable scrapes.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		requestLabels = append(requestLabels, label)
	}
	sort.Slice(requestLabels, func(i, j int) bool {
		a, b := requestLabels[i], requestLabels[j]
		if a.path != b.path {
			return a.path < b.path
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.status < b.status
	})

	fmt.Fprintln(w, "# HELP pulsecast_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE pulsecast_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "pulsecast_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP pulsecast_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE pulsecast_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "pulsecast_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	events := sortedKeys(r.streamEvents)
	fmt.Fprintln(w, "# HELP pulsecast_stream_events_total Session lifecycle and viewer events by type")
	fmt.Fprintln(w, "# TYPE pulsecast_stream_events_total counter")
	for _, event := range events {
		fmt.Fprintf(w, "pulsecast_stream_events_total{event=%q} %d\n", event, r.streamEvents[event])
	}

	fmt.Fprintln(w, "# HELP pulsecast_active_viewers Current number of active viewer presences")
	fmt.Fprintln(w, "# TYPE pulsecast_active_viewers gauge")
	fmt.Fprintf(w, "pulsecast_active_viewers %d\n", r.activeViewers.Load())

	webhookKinds := sortedKeys(r.webhookEvents)
	fmt.Fprintln(w, "# HELP pulsecast_webhook_events_total Accepted platform callbacks by event kind")
	fmt.Fprintln(w, "# TYPE pulsecast_webhook_events_total counter")
	for _, kind := range webhookKinds {
		fmt.Fprintf(w, "pulsecast_webhook_events_total{type=%q} %d\n", kind, r.webhookEvents[kind])
	}

	fmt.Fprintln(w, "# HELP pulsecast_webhook_rejected_total Platform callbacks rejected at the signature boundary")
	fmt.Fprintln(w, "# TYPE pulsecast_webhook_rejected_total counter")
	fmt.Fprintf(w, "pulsecast_webhook_rejected_total %d\n", r.webhookRejected)

	fmt.Fprintln(w, "# HELP pulsecast_bans_total Moderation ban decisions recorded")
	fmt.Fprintln(w, "# TYPE pulsecast_bans_total counter")
	fmt.Fprintf(w, "pulsecast_bans_total %d\n", r.banCount)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses per-stream path segments so metric cardinality
// stays bounded regardless of how many sessions exist.
func normalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if i > 0 && segments[i-1] == "streams" && segment != "" {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// Package-level helpers against the default recorder.

func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

func StreamCreated()   { defaultRecorder.StreamCreated() }
func StreamActivated() { defaultRecorder.StreamActivated() }
func StreamEnded()     { defaultRecorder.StreamEnded() }
func StreamDeleted()   { defaultRecorder.StreamDeleted() }
func ViewerJoined()    { defaultRecorder.ViewerJoined() }
func ViewerLeft()      { defaultRecorder.ViewerLeft() }
func BanRecorded()     { defaultRecorder.BanRecorded() }

func WebhookProcessed(eventType string) { defaultRecorder.WebhookProcessed(eventType) }
func WebhookRejected()                  { defaultRecorder.WebhookRejected() }

// Reset clears the default recorder; for tests.
func Reset() { defaultRecorder.Reset() }

// Handler exposes the default recorder.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
