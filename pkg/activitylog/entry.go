// Package activitylog buffers a best-effort record of recent proxied
// requests in Redis for the admin UI to display. It must never fail or slow
// down a client request: every write is fire-and-forget, guarded by a
// circuit breaker, and falls back to an in-memory retry queue when Redis is
// unavailable.
package activitylog

import "time"

// Entry is one recorded request, pushed by the dispatcher (C7) once per
// request after its response is written, regardless of outcome.
type Entry struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	Provider   string    `json:"provider"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	Kind       string    `json:"kind"`
	DurationMS int64     `json:"duration_ms"`
}
