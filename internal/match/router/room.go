package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/room"
)

// Subscriber is one connection's view of a room. The room writes envelopes
// into Outbox and never blocks on it: a subscriber that cannot keep up is
// dropped, not waited for.
type Subscriber struct {
	ID     string
	Outbox chan event.Envelope
}

type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	Sub *Subscriber
}

type leaveMsg struct {
	SubID string
}

type applyMsg struct {
	Event event.MatchEvent
	Reply chan event.Envelope
}

type closeMsg struct {
	Done chan struct{}
}

// sweepMsg asks the room to tear itself down if its match finished longer
// than grace ago. The room answers on Reply; only it may read finishedAt.
type sweepMsg struct {
	Grace time.Duration
	Reply chan bool
}

type statsMsg struct {
	Reply chan int
}

func (joinMsg) isRoomMsg()  {}
func (leaveMsg) isRoomMsg() {}
func (applyMsg) isRoomMsg() {}
func (closeMsg) isRoomMsg() {}
func (sweepMsg) isRoomMsg() {}
func (statsMsg) isRoomMsg() {}

// matchRoom owns the authoritative state of one match. All operations on a
// room go through its mailbox and are handled by a single goroutine, which
// is what serializes joins, leaves, and applies relative to each other.
type matchRoom struct {
	router *Router
	inbox  chan roomMsg
	state  *room.State
	ledger *room.Ledger
	subs   map[string]*Subscriber
	clk    clockwork.Clock

	// Periodic clock broadcast; runs only while the room has subscribers.
	ticker clockwork.Ticker
	tickCh <-chan time.Time

	finishedAt time.Time
}

func newMatchRoom(r *Router, st *room.State) *matchRoom {
	return &matchRoom{
		router: r,
		inbox:  make(chan roomMsg, r.cfg.MailboxSize),
		state:  st,
		ledger: room.NewLedger(r.cfg.LedgerTTL),
		subs:   make(map[string]*Subscriber),
		clk:    r.clk,
	}
}

func (m *matchRoom) loop(ctx context.Context) {
	defer m.ledger.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return

		case <-m.tickCh:
			m.broadcastClock()

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case joinMsg:
				m.handleJoin(msg.Sub)
			case leaveMsg:
				m.handleLeave(msg.SubID)
			case applyMsg:
				m.handleApply(ctx, msg)
			case sweepMsg:
				expired := !m.finishedAt.IsZero() && !m.clk.Now().Before(m.finishedAt.Add(msg.Grace))
				msg.Reply <- expired
				if expired {
					log.Info().
						Str("match_id", m.state.MatchID.String()).
						Msg("tearing down finished room")
					m.shutdown()
					return
				}
			case statsMsg:
				msg.Reply <- len(m.subs)
			case closeMsg:
				m.shutdown()
				close(msg.Done)
				return
			}
		}
	}
}

// handleJoin registers the subscriber and hands it the full snapshot before
// the room processes any later mailbox message, so a late joiner never sees
// an incremental update without its context.
func (m *matchRoom) handleJoin(sub *Subscriber) {
	env, err := event.NewEnvelope(event.MessageSnapshot, m.state.Snapshot())
	if err != nil {
		log.Error().Err(err).Str("match_id", m.state.MatchID.String()).Msg("failed to build snapshot")
		return
	}
	m.subs[sub.ID] = sub
	m.send(sub, env)

	if m.ticker == nil && len(m.subs) == 1 {
		m.ticker = m.clk.NewTicker(m.router.cfg.ClockUpdateInterval)
		m.tickCh = m.ticker.Chan()
	}

	log.Debug().
		Str("match_id", m.state.MatchID.String()).
		Str("subscriber", sub.ID).
		Int("subscribers", len(m.subs)).
		Msg("subscriber joined room")
}

// handleLeave is best-effort: unknown ids are ignored and nothing blocks on
// pending sends. The room itself is retained even with zero subscribers
// while the match is not finished.
func (m *matchRoom) handleLeave(subID string) {
	sub, ok := m.subs[subID]
	if !ok {
		return
	}
	delete(m.subs, subID)
	close(sub.Outbox)
	if len(m.subs) == 0 && m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
		m.tickCh = nil
	}
}

func (m *matchRoom) handleApply(ctx context.Context, msg applyMsg) {
	ev := msg.Event

	if err := ev.Validate(); err != nil {
		m.reply(msg, nackEnvelope(ev.ClientEventID, event.NackReasonInvalid, err.Error()))
		return
	}

	// Dedup: a replay of an applied event gets the prior acknowledgement
	// again, without reapplying or re-persisting.
	if m.ledger.Seen(ev.ClientEventID) {
		log.Debug().
			Str("event_id", ev.ClientEventID.String()).
			Str("match_id", m.state.MatchID.String()).
			Msg("duplicate event, re-acknowledging")
		m.reply(msg, ackEnvelope(ev.ClientEventID))
		return
	}

	if err := m.state.CheckPhase(&ev); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", ev.ClientEventID.String()).
			Str("match_id", m.state.MatchID.String()).
			Msg("rejecting conflicting event")
		m.reply(msg, nackEnvelope(ev.ClientEventID, event.NackReasonConflict, err.Error()))
		return
	}

	// Persist before anything becomes visible. Bounded retry, then nack:
	// the sender treats the nack as a transient delivery failure and the
	// event stays on its queue.
	inserted, err := m.persistWithRetry(ctx, ev)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", ev.ClientEventID.String()).
			Str("match_id", m.state.MatchID.String()).
			Msg("persistence failed, nacking event")
		m.reply(msg, nackEnvelope(ev.ClientEventID, event.NackReasonPersistence, err.Error()))
		return
	}

	// Already on record but absent from this room's ledger: the event was
	// applied in a previous process lifetime and this is a retry after a
	// lost ack. Re-ack without folding so the score never double-counts.
	if !inserted {
		log.Debug().
			Str("event_id", ev.ClientEventID.String()).
			Str("match_id", m.state.MatchID.String()).
			Msg("event already persisted, re-acknowledging")
		m.ledger.Record(ev.ClientEventID)
		m.reply(msg, ackEnvelope(ev.ClientEventID))
		return
	}

	if err := m.state.Fold(ev); err != nil {
		m.reply(msg, nackEnvelope(ev.ClientEventID, event.NackReasonInvalid, err.Error()))
		return
	}
	m.ledger.Record(ev.ClientEventID)

	// The events table is the source of truth; a failed snapshot upsert is
	// recoverable by refolding, so it does not nack the event.
	if err := m.router.store.SaveSnapshot(ctx, m.state); err != nil {
		log.Warn().Err(err).Str("match_id", m.state.MatchID.String()).Msg("failed to save snapshot")
	}

	if m.router.relay != nil {
		if err := m.router.relay.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event_id", ev.ClientEventID.String()).Msg("failed to relay applied event")
		}
	}

	applied := event.EventAppliedPayload{
		MatchID: m.state.MatchID,
		Event:   ev,
		Score:   m.state.Score,
		Phase:   m.state.Phase,
	}
	if env, err := event.NewEnvelope(event.MessageEventApplied, applied); err == nil {
		m.broadcast(env)
	}

	if ev.Type == event.EventTypePhaseChange || ev.Type == event.EventTypeStoppage {
		m.broadcastClock()
	}
	if m.state.Phase == event.PhaseFinished && m.finishedAt.IsZero() {
		m.finishedAt = m.clk.Now()
	}

	m.reply(msg, ackEnvelope(ev.ClientEventID))
}

func (m *matchRoom) persistWithRetry(ctx context.Context, ev event.MatchEvent) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < m.router.cfg.PersistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-m.clk.After(m.router.cfg.PersistRetryDelay * time.Duration(attempt)):
			}
		}
		inserted, err := m.router.store.PersistEvent(ctx, m.state.MatchID, ev)
		if err != nil {
			lastErr = err
			continue
		}
		return inserted, nil
	}
	return false, lastErr
}

func (m *matchRoom) broadcastClock() {
	payload := event.ClockUpdatePayload{MatchID: m.state.MatchID, Clock: m.state.Clock}
	if env, err := event.NewEnvelope(event.MessageClockUpdate, payload); err == nil {
		m.broadcast(env)
	}
}

func (m *matchRoom) broadcast(env event.Envelope) {
	for _, sub := range m.subs {
		m.send(sub, env)
	}
}

// send never blocks; a subscriber with a full outbox is dropped.
func (m *matchRoom) send(sub *Subscriber, env event.Envelope) {
	select {
	case sub.Outbox <- env:
	default:
		log.Warn().
			Str("match_id", m.state.MatchID.String()).
			Str("subscriber", sub.ID).
			Msg("subscriber outbox full, dropping subscriber")
		delete(m.subs, sub.ID)
		close(sub.Outbox)
	}
}

func (m *matchRoom) reply(msg applyMsg, env event.Envelope) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- env:
	default:
	}
}

func (m *matchRoom) shutdown() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
		m.tickCh = nil
	}
	for id, sub := range m.subs {
		close(sub.Outbox)
		delete(m.subs, id)
	}
}

func ackEnvelope(id uuid.UUID) event.Envelope {
	env, _ := event.NewEnvelope(event.MessageAck, event.AckPayload{ClientEventID: id, Applied: true})
	return env
}

func nackEnvelope(id uuid.UUID, reason, detail string) event.Envelope {
	env, _ := event.NewEnvelope(event.MessageNack, event.NackPayload{ClientEventID: id, Reason: reason, Detail: detail})
	return env
}
