package triage

import (
	"context"
	"time"
)

// EntryStatus tracks whether a capture reached the remote service.
type EntryStatus string

const (
	// EntryPending means the capture is queued and not yet submitted
	EntryPending EntryStatus = "pending"

	// EntrySent means the sink accepted the capture
	EntrySent EntryStatus = "sent"

	// EntryFailed means the sink returned an error
	EntryFailed EntryStatus = "failed"

	// EntryDropped means the capture left the queue without being submitted,
	// either evicted by a newer one or abandoned at shutdown
	EntryDropped EntryStatus = "dropped"
)

// Entry is the journal record of one capture submission. The captured text
// itself is not kept, only its size.
type Entry struct {
	ID          string      `json:"id"`
	Source      SourceKind  `json:"source"`
	App         string      `json:"app_name,omitempty"`
	Status      EntryStatus `json:"status"`
	RemoteID    string      `json:"remote_id,omitempty"`
	Error       string      `json:"error,omitempty"`
	Chars       int         `json:"chars"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Duration    float64     `json:"duration_seconds,omitempty"`
}

// Journal is the persistence interface for capture history.
type Journal interface {
	Get(ctx context.Context, id string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]*Entry, error)
}
