package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
)

// Status is the delivery lifecycle of a queued item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Item wraps a MatchEvent with delivery bookkeeping. An Item is owned
// exclusively by the queue on the originating device; it is never shared
// across devices. The ID is the event's ClientEventID, so the durable store
// is keyed by the idempotency key.
type Item struct {
	ID          uuid.UUID        `json:"id" storm:"id"`
	MatchID     uuid.UUID        `json:"match_id"`
	Seq         uint64           `json:"seq"` // per-match FIFO position
	Event       event.MatchEvent `json:"event"`
	Status      Status           `json:"status"`
	Attempts    int              `json:"attempts"`
	NextRetryAt time.Time        `json:"next_retry_at"`
	LastError   string           `json:"last_error,omitempty"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// Health is the outward-facing queue summary. Retrying counts pending items
// that have already failed at least once.
type Health struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}
