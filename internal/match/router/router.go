package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/room"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/store"
)

// Relay receives every applied event after the room has persisted and
// broadcast it. Optional; nil disables relaying.
type Relay interface {
	Publish(ctx context.Context, ev event.MatchEvent) error
}

// Config tunes the router.
type Config struct {
	PersistAttempts     int           // bounded server-side persistence retry
	PersistRetryDelay   time.Duration // base delay between persistence retries
	LedgerTTL           time.Duration // dedup ledger entry lifetime
	ClockUpdateInterval time.Duration // periodic clock broadcast while subscribed
	FinishedGrace       time.Duration // how long a finished room lingers
	MailboxSize         int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PersistAttempts:     3,
		PersistRetryDelay:   time.Second,
		LedgerTTL:           6 * time.Hour,
		ClockUpdateInterval: 5 * time.Second,
		FinishedGrace:       2 * time.Minute,
		MailboxSize:         128,
	}
}

// Router owns the per-match rooms and fans authoritative state out to their
// subscribers. Operations on different rooms run fully in parallel; each
// room serializes its own joins, leaves, and applies through its mailbox.
type Router struct {
	cfg   Config
	store store.Store
	relay Relay
	clk   clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[uuid.UUID]*matchRoom
}

// New builds a router. Both the store and the optional relay are injected;
// the router reaches into no ambient global state.
func New(parent context.Context, st store.Store, relay Relay, clk clockwork.Clock, cfg Config) *Router {
	ctx, cancel := context.WithCancel(parent)
	return &Router{
		cfg:    cfg,
		store:  st,
		relay:  relay,
		clk:    clk,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[uuid.UUID]*matchRoom),
	}
}

// Join subscribes a connection to a match room, creating the room (seeded
// from the durable store when a snapshot exists) on first contact. The
// subscriber receives a full snapshot before any incremental message.
func (r *Router) Join(ctx context.Context, matchID uuid.UUID, sub *Subscriber) error {
	rm, err := r.getOrCreateRoom(ctx, matchID)
	if err != nil {
		return err
	}
	select {
	case rm.inbox <- joinMsg{Sub: sub}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Leave unsubscribes best-effort: it never blocks on the room and ignores
// unknown matches. The room itself survives until its match finishes.
func (r *Router) Leave(matchID uuid.UUID, subID string) {
	r.mu.Lock()
	rm := r.rooms[matchID]
	r.mu.Unlock()
	if rm == nil {
		return
	}
	select {
	case rm.inbox <- leaveMsg{SubID: subID}:
	default:
		go func() {
			select {
			case rm.inbox <- leaveMsg{SubID: subID}:
			case <-r.ctx.Done():
			}
		}()
	}
}

// Submit routes one event to its room and waits for the room's decision.
// The returned envelope is an ack or a nack, ready for the wire.
func (r *Router) Submit(ctx context.Context, matchID uuid.UUID, ev event.MatchEvent) (event.Envelope, error) {
	rm, err := r.getOrCreateRoom(ctx, matchID)
	if err != nil {
		return event.Envelope{}, err
	}

	reply := make(chan event.Envelope, 1)
	select {
	case rm.inbox <- applyMsg{Event: ev, Reply: reply}:
	case <-ctx.Done():
		return event.Envelope{}, ctx.Err()
	case <-r.ctx.Done():
		return event.Envelope{}, r.ctx.Err()
	}

	select {
	case env := <-reply:
		return env, nil
	case <-ctx.Done():
		return event.Envelope{}, ctx.Err()
	case <-r.ctx.Done():
		return event.Envelope{}, r.ctx.Err()
	}
}

// SweepFinished tears down rooms whose match finished longer than the grace
// period ago. Wired to a periodic job in the host process.
func (r *Router) SweepFinished() int {
	r.mu.Lock()
	rooms := make(map[uuid.UUID]*matchRoom, len(r.rooms))
	for id, rm := range r.rooms {
		rooms[id] = rm
	}
	r.mu.Unlock()

	swept := 0
	for id, rm := range rooms {
		reply := make(chan bool, 1)
		select {
		case rm.inbox <- sweepMsg{Grace: r.cfg.FinishedGrace, Reply: reply}:
		case <-r.ctx.Done():
			return swept
		}
		select {
		case expired := <-reply:
			if expired {
				r.mu.Lock()
				delete(r.rooms, id)
				r.mu.Unlock()
				swept++
			}
		case <-r.ctx.Done():
			return swept
		}
	}
	return swept
}

// Stats reports room and subscriber counts for the /stats endpoint.
func (r *Router) Stats() map[string]interface{} {
	r.mu.Lock()
	rooms := make([]*matchRoom, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	subscribers := 0
	for _, rm := range rooms {
		reply := make(chan int, 1)
		select {
		case rm.inbox <- statsMsg{Reply: reply}:
			select {
			case n := <-reply:
				subscribers += n
			case <-r.ctx.Done():
			}
		default:
		}
	}
	return map[string]interface{}{
		"rooms":       len(rooms),
		"subscribers": subscribers,
	}
}

// Close shuts down every room.
func (r *Router) Close() {
	r.cancel()
}

func (r *Router) getOrCreateRoom(ctx context.Context, matchID uuid.UUID) (*matchRoom, error) {
	if matchID == uuid.Nil {
		return nil, fmt.Errorf("missing match id")
	}

	r.mu.Lock()
	if rm, ok := r.rooms[matchID]; ok {
		r.mu.Unlock()
		return rm, nil
	}
	r.mu.Unlock()

	// Seed from the durable store so a room recreated after a restart or a
	// reconnect gap picks up where the match left off.
	st, err := r.store.LoadSnapshot(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		st = room.NewState(matchID, uuid.Nil, uuid.Nil)
	} else if err != nil {
		return nil, fmt.Errorf("failed to seed room for match %s: %w", matchID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[matchID]; ok {
		return rm, nil
	}
	rm := newMatchRoom(r, st)
	r.rooms[matchID] = rm
	go rm.loop(r.ctx)

	log.Info().Str("match_id", matchID.String()).Int("applied", st.Applied).Msg("room opened")
	return rm, nil
}
