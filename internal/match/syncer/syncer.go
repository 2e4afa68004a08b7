package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/marusama/semaphore/v2"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/queue"
)

// ErrConflict marks a rejection that retrying cannot fix: the router refused
// the event because its phase disagrees with the authoritative match state.
// Transports must wrap conflict nacks in this error.
var ErrConflict = errors.New("event conflicts with authoritative match state")

// Transport delivers a single event to the router and blocks until the
// router acknowledges, nacks, or the context expires. A nil return means
// the event was applied (or was a deduplicated replay).
type Transport interface {
	Submit(ctx context.Context, ev event.MatchEvent) error
}

// Options tunes the drain loop.
type Options struct {
	DrainInterval  time.Duration // periodic drain, on top of explicit wakes
	AttemptTimeout time.Duration // per delivery attempt
	MaxInFlight    int           // concurrent per-match drains
}

// DefaultOptions matches the documented policy: drain every 15s, 10s per
// attempt, at most 4 matches in flight.
func DefaultOptions() Options {
	return Options{
		DrainInterval:  15 * time.Second,
		AttemptTimeout: 10 * time.Second,
		MaxInFlight:    4,
	}
}

// Synchronizer bridges the durable queue and the transport under changing
// connectivity. Distinct matches drain in parallel (bounded by MaxInFlight);
// within one match delivery is strictly serialized and in FIFO order, each
// item acknowledged before the next is sent.
type Synchronizer struct {
	q         *queue.Queue
	transport Transport
	clk       clockwork.Clock
	opts      Options
	sem       semaphore.Semaphore
	wakeCh    chan struct{}

	mu       sync.Mutex
	draining map[uuid.UUID]bool
	wg       sync.WaitGroup
}

// New wires a synchronizer. The transport handle is injected here; there is
// no ambient global transport.
func New(q *queue.Queue, transport Transport, clk clockwork.Clock, opts Options) *Synchronizer {
	return &Synchronizer{
		q:         q,
		transport: transport,
		clk:       clk,
		opts:      opts,
		sem:       semaphore.New(opts.MaxInFlight),
		wakeCh:    make(chan struct{}, 1),
		draining:  make(map[uuid.UUID]bool),
	}
}

// Run drains until the context is cancelled. It drains once immediately,
// then on every tick or wake.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(s.opts.DrainInterval)
	defer ticker.Stop()

	s.drainAll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.Chan():
			s.drainAll(ctx)
		case <-s.wakeCh:
			s.drainAll(ctx)
		}
	}
}

// NotifyConnectivity tells the synchronizer the link is (back) up; the next
// drain starts immediately instead of waiting for the ticker.
func (s *Synchronizer) NotifyConnectivity() {
	s.wake()
}

// RetryAll clears backoff on every failed or backed-off item and forces an
// immediate drain.
func (s *Synchronizer) RetryAll() error {
	if err := s.q.RetryAll(); err != nil {
		return err
	}
	s.wake()
	return nil
}

// Retry clears backoff on a single item and forces a drain.
func (s *Synchronizer) Retry(id uuid.UUID) error {
	if err := s.q.RetryNow(id); err != nil {
		return err
	}
	s.wake()
	return nil
}

// Discard drops a single item. Explicit and irreversible; the synchronizer
// never discards on its own.
func (s *Synchronizer) Discard(id uuid.UUID) error {
	return s.q.Discard(id)
}

// Health surfaces the queue summary. This is the only queue state the
// synchronizer exposes outward.
func (s *Synchronizer) Health() queue.Health {
	return s.q.Health()
}

func (s *Synchronizer) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// drainAll starts one drain goroutine per match with undelivered items,
// skipping matches that already have one running.
func (s *Synchronizer) drainAll(ctx context.Context) {
	for _, matchID := range s.q.Matches() {
		s.mu.Lock()
		if s.draining[matchID] {
			s.mu.Unlock()
			continue
		}
		s.draining[matchID] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(matchID uuid.UUID) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.draining, matchID)
				s.mu.Unlock()
			}()

			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			s.drainMatch(ctx, matchID)
		}(matchID)
	}
}

// drainMatch walks one match's FIFO head-first. It stops at the first item
// that is not deliverable right now: a backed-off or parked head blocks the
// items behind it, because delivering them first would break enqueue order.
func (s *Synchronizer) drainMatch(ctx context.Context, matchID uuid.UUID) {
	for ctx.Err() == nil {
		head, ok := s.q.NextForMatch(matchID)
		if !ok {
			return
		}
		if head.Status != queue.StatusPending || head.NextRetryAt.After(s.clk.Now()) {
			return
		}

		if err := s.q.MarkSyncing(head.ID); err != nil {
			// Lost the claim; another drain got here first.
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
		err := s.transport.Submit(attemptCtx, head.Event)
		cancel()

		switch {
		case err == nil:
			if err := s.q.MarkCompleted(head.ID); err != nil {
				log.Error().Err(err).Str("event_id", head.ID.String()).Msg("failed to mark item completed")
				return
			}

		case errors.Is(err, ErrConflict):
			log.Warn().
				Str("event_id", head.ID.String()).
				Str("match_id", matchID.String()).
				Err(err).
				Msg("event rejected as conflict, parking for operator review")
			if err := s.q.MarkFailed(head.ID, err); err != nil {
				log.Error().Err(err).Str("event_id", head.ID.String()).Msg("failed to park conflicting item")
			}
			return

		default:
			log.Debug().
				Str("event_id", head.ID.String()).
				Str("match_id", matchID.String()).
				Int("attempts", head.Attempts+1).
				Err(err).
				Msg("delivery attempt failed, backing off")
			if err := s.q.MarkError(head.ID, err); err != nil {
				log.Error().Err(err).Str("event_id", head.ID.String()).Msg("failed to record delivery error")
			}
			return
		}
	}
}
