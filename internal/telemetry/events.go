// Package telemetry records query analytics and operational metrics.
// Events stay local: an in-memory ring for cheap recent-query stats, an
// optional SQLite sink for persistence, and Prometheus metrics for
// scraping.
package telemetry

import (
	"sync"
	"time"
)

// AnswerMode says how a query was answered.
type AnswerMode string

const (
	ModeRaw       AnswerMode = "raw"
	ModeGenerated AnswerMode = "generated"
	ModeStreamed  AnswerMode = "streamed"
)

// QueryEvent is the record of one query through the gateway. SessionID
// carries the token's hash, never the raw credential.
type QueryEvent struct {
	QueryID        string        `json:"query_id"`
	SessionID      string        `json:"session_id,omitempty"`
	OrganizationID string        `json:"organization_id"`
	UserID         string        `json:"user_id"`
	Question       string        `json:"question"`
	Mode           AnswerMode    `json:"mode"`
	ResultCount    int           `json:"result_count"`
	SourceChunkIDs []string      `json:"source_chunk_ids,omitempty"`
	AnswerLength   int           `json:"answer_length"`
	RetrieveTime   time.Duration `json:"retrieve_ms"`
	GenerateTime   time.Duration `json:"generate_ms"`
	ResponseTime   time.Duration `json:"response_time_ms"`
	Success        bool          `json:"success"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// IsZeroResult reports whether retrieval came back empty.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// Ring is a fixed-capacity buffer of recent events, oldest evicted first.
type Ring struct {
	mu       sync.RWMutex
	items    []QueryEvent
	head     int
	size     int
	capacity int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{
		items:    make([]QueryEvent, capacity),
		capacity: capacity,
	}
}

// Add records an event, evicting the oldest when full.
func (r *Ring) Add(ev QueryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = ev
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Recent returns up to limit events for the organization, newest first.
// An empty orgID matches every organization.
func (r *Ring) Recent(orgID string, limit int) []QueryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = r.size
	}

	out := make([]QueryEvent, 0, limit)
	for i := 0; i < r.size && len(out) < limit; i++ {
		idx := (r.head - 1 - i + r.capacity*2) % r.capacity
		ev := r.items[idx]
		if orgID != "" && ev.OrganizationID != orgID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats is an aggregate view over the buffered events.
type Stats struct {
	Total       int           `json:"total"`
	Failures    int           `json:"failures"`
	ZeroResults int           `json:"zero_results"`
	AvgRetrieve time.Duration `json:"avg_retrieve_ms"`
}

// Stats aggregates the buffered events for the organization.
func (r *Ring) Stats(orgID string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	var totalRetrieve time.Duration
	for i := 0; i < r.size; i++ {
		ev := r.items[i]
		if orgID != "" && ev.OrganizationID != orgID {
			continue
		}
		st.Total++
		if !ev.Success {
			st.Failures++
		}
		if ev.IsZeroResult() {
			st.ZeroResults++
		}
		totalRetrieve += ev.RetrieveTime
	}
	if st.Total > 0 {
		st.AvgRetrieve = totalRetrieve / time.Duration(st.Total)
	}
	return st
}
