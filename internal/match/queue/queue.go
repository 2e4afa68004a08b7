package queue

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
)

var (
	// ErrNotFound is returned for operations on an unknown item id.
	ErrNotFound = errors.New("queue item not found")
	// ErrBadStatus is returned when a status transition's precondition fails,
	// e.g. marking an item Syncing that is not Pending.
	ErrBadStatus = errors.New("queue item is not in the required status")
	// ErrDuplicateEnqueue is returned when an event id is enqueued twice.
	ErrDuplicateEnqueue = errors.New("event already enqueued")
)

// Options tunes the retry policy.
type Options struct {
	BackoffStart time.Duration // first retry delay
	BackoffCap   time.Duration // upper bound on any retry delay
	MaxAttempts  int           // attempts before an item parks in Error
	Jitter       float64       // extra random fraction of the delay, [0,1]
}

// DefaultOptions matches the documented policy: 2s start, 30s cap, 8
// attempts, 25% jitter.
func DefaultOptions() Options {
	return Options{
		BackoffStart: 2 * time.Second,
		BackoffCap:   30 * time.Second,
		MaxAttempts:  8,
		Jitter:       0.25,
	}
}

// Queue is the durable, per-match FIFO queue of logged events awaiting
// delivery. Every mutation is persisted through the Store before it is
// visible, so a crash or reload never loses or reorders captured events.
type Queue struct {
	mu    sync.Mutex
	clk   clockwork.Clock
	store Store
	opts  Options

	items   map[uuid.UUID]*Item
	nextSeq map[uuid.UUID]uint64 // per match
}

// Open loads persisted items from the store and rebuilds the in-memory
// index. Items that were Syncing when the process died go back to Pending:
// their delivery outcome is unknown, and redelivery is safe because the
// router deduplicates on ClientEventID.
func Open(store Store, clk clockwork.Clock, opts Options) (*Queue, error) {
	items, err := store.LoadAllItems()
	if err != nil {
		return nil, err
	}

	q := &Queue{
		clk:     clk,
		store:   store,
		opts:    opts,
		items:   make(map[uuid.UUID]*Item, len(items)),
		nextSeq: make(map[uuid.UUID]uint64),
	}

	for _, it := range items {
		if it.Status == StatusSyncing {
			it.Status = StatusPending
			if err := store.SaveItem(it); err != nil {
				return nil, err
			}
		}
		q.items[it.ID] = it
		if it.Seq >= q.nextSeq[it.MatchID] {
			q.nextSeq[it.MatchID] = it.Seq + 1
		}
	}
	return q, nil
}

// Enqueue validates the event, assigns it the tail position of its match's
// FIFO, and persists it durably before returning.
func (q *Queue) Enqueue(ev event.MatchEvent) (Item, error) {
	if err := ev.Validate(); err != nil {
		return Item{}, fmt.Errorf("rejected event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[ev.ClientEventID]; exists {
		return Item{}, fmt.Errorf("%w: %s", ErrDuplicateEnqueue, ev.ClientEventID)
	}

	it := &Item{
		ID:         ev.ClientEventID,
		MatchID:    ev.MatchID,
		Seq:        q.nextSeq[ev.MatchID],
		Event:      ev,
		Status:     StatusPending,
		EnqueuedAt: q.clk.Now(),
	}
	if err := q.store.SaveItem(it); err != nil {
		return Item{}, err
	}
	q.nextSeq[ev.MatchID]++
	q.items[it.ID] = it
	return *it, nil
}

// MarkSyncing claims an item for a delivery attempt. It is a compare-and-set
// from Pending so at most one attempt is ever in flight per item.
func (q *Queue) MarkSyncing(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrBadStatus, id, it.Status)
	}
	it.Status = StatusSyncing
	return q.store.SaveItem(it)
}

// MarkCompleted records a server acknowledgement. The item stays in the
// store until PurgeCompleted prunes it.
func (q *Queue) MarkCompleted(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Status = StatusCompleted
	it.LastError = ""
	return q.store.SaveItem(it)
}

// MarkError records a failed delivery attempt and schedules the next retry
// per the backoff policy. Once attempts reach the cap the item parks in
// Error and waits for a manual retry or discard.
func (q *Queue) MarkError(id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Attempts++
	it.LastError = cause.Error()
	if it.Attempts >= q.opts.MaxAttempts {
		it.Status = StatusError
		it.NextRetryAt = time.Time{}
	} else {
		it.Status = StatusPending
		it.NextRetryAt = q.clk.Now().Add(q.backoffDelay(it.Attempts))
	}
	return q.store.SaveItem(it)
}

// MarkFailed parks an item in Error immediately, bypassing backoff. Used for
// rejections that retrying cannot fix, such as phase conflicts.
func (q *Queue) MarkFailed(id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Attempts++
	it.Status = StatusError
	it.LastError = cause.Error()
	it.NextRetryAt = time.Time{}
	return q.store.SaveItem(it)
}

// backoffDelay computes the delay before retry attempt+1. Exponential from
// BackoffStart, bounded by BackoffCap, plus a random jitter fraction.
func (q *Queue) backoffDelay(attempts int) time.Duration {
	delay := q.opts.BackoffStart
	for i := 1; i < attempts && delay < q.opts.BackoffCap; i++ {
		delay *= 2
	}
	if delay > q.opts.BackoffCap {
		delay = q.opts.BackoffCap
	}
	if q.opts.Jitter > 0 {
		delay += time.Duration(rand.Float64() * q.opts.Jitter * float64(delay))
	}
	return delay
}

// PendingItems returns the items eligible for delivery now, ordered by
// match and per-match FIFO position.
func (q *Queue) PendingItems() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	var out []Item
	for _, it := range q.items {
		if it.Status == StatusPending && !it.NextRetryAt.After(now) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatchID != out[j].MatchID {
			return out[i].MatchID.String() < out[j].MatchID.String()
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// NextForMatch returns the lowest-seq item for a match that has not been
// acknowledged yet, regardless of eligibility. Delivery is strictly in
// order per match, so the drain loop only ever looks at this head item.
func (q *Queue) NextForMatch(matchID uuid.UUID) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var head *Item
	for _, it := range q.items {
		if it.MatchID != matchID || it.Status == StatusCompleted {
			continue
		}
		if head == nil || it.Seq < head.Seq {
			head = it
		}
	}
	if head == nil {
		return Item{}, false
	}
	return *head, true
}

// Matches returns the ids of matches that still have unacknowledged items.
func (q *Queue) Matches() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, it := range q.items {
		if it.Status == StatusCompleted || seen[it.MatchID] {
			continue
		}
		seen[it.MatchID] = true
		out = append(out, it.MatchID)
	}
	return out
}

// Item returns a copy of one queue item.
func (q *Queue) Item(id uuid.UUID) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// RetryNow clears backoff state on one item so the next drain picks it up
// immediately. Works on both backed-off Pending items and parked Error
// items; the attempt counter restarts so the cap applies afresh.
func (q *Queue) RetryNow(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	switch it.Status {
	case StatusPending, StatusError:
		it.Status = StatusPending
		it.Attempts = 0
		it.NextRetryAt = time.Time{}
		return q.store.SaveItem(it)
	default:
		return fmt.Errorf("%w: %s is %s", ErrBadStatus, id, it.Status)
	}
}

// RetryAll applies RetryNow to every backed-off or parked item.
func (q *Queue) RetryAll() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.Status != StatusPending && it.Status != StatusError {
			continue
		}
		if it.Attempts == 0 && it.NextRetryAt.IsZero() {
			continue
		}
		it.Status = StatusPending
		it.Attempts = 0
		it.NextRetryAt = time.Time{}
		if err := q.store.SaveItem(it); err != nil {
			return err
		}
	}
	return nil
}

// Discard removes an item permanently. This is an explicit, irreversible
// operator action; nothing in the queue ever discards automatically.
func (q *Queue) Discard(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return ErrNotFound
	}
	if err := q.store.DeleteItem(id); err != nil {
		return err
	}
	delete(q.items, id)
	return nil
}

// PurgeCompleted prunes acknowledged items from the store and returns how
// many were removed.
func (q *Queue) PurgeCompleted() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	purged := 0
	for id, it := range q.items {
		if it.Status != StatusCompleted {
			continue
		}
		if err := q.store.DeleteItem(id); err != nil {
			return purged, err
		}
		delete(q.items, id)
		purged++
	}
	return purged, nil
}

// Health summarizes the queue for observability.
func (q *Queue) Health() Health {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := lo.Values(q.items)
	return Health{
		Total: len(items),
		Pending: lo.CountBy(items, func(it *Item) bool {
			return it.Status == StatusPending
		}),
		Syncing: lo.CountBy(items, func(it *Item) bool {
			return it.Status == StatusSyncing
		}),
		Retrying: lo.CountBy(items, func(it *Item) bool {
			return it.Status == StatusPending && it.Attempts > 0
		}),
		Failed: lo.CountBy(items, func(it *Item) bool {
			return it.Status == StatusError
		}),
	}
}
