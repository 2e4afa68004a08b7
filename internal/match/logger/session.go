// Package logger is the device-side entry point: it stamps logged events
// with the match clock's phase and elapsed time, hands them to the durable
// queue, and nudges the synchronizer. The host UI calls into a Session; it
// never touches the queue or transport directly.
package logger

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/clock"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/queue"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/syncer"
)

// Session logs one match from one device.
type Session struct {
	matchID  uuid.UUID
	deviceID string
	clock    *clock.Clock
	queue    *queue.Queue
	syncer   *syncer.Synchronizer
	wall     clockwork.Clock
}

// NewSession wires a logging session. The clock, queue, and synchronizer
// are injected so hosts (and tests) control their construction.
func NewSession(matchID uuid.UUID, deviceID string, c *clock.Clock, q *queue.Queue, s *syncer.Synchronizer, wall clockwork.Clock) *Session {
	return &Session{
		matchID:  matchID,
		deviceID: deviceID,
		clock:    c,
		queue:    q,
		syncer:   s,
		wall:     wall,
	}
}

// Clock exposes the session's match clock for UI display.
func (s *Session) Clock() *clock.Clock {
	return s.clock
}

// LogEvent stamps, enqueues, and schedules delivery of one event. The
// returned suggestion, when present, is a proposed stoppage addition the
// operator must accept or dismiss separately.
func (s *Session) LogEvent(t event.EventType, teamID, playerID *uuid.UUID, payload interface{}) (queue.Item, *clock.Suggestion, error) {
	var data json.RawMessage
	if payload != nil {
		data = event.MustMarshal(payload)
	}

	item, err := s.enqueue(event.MatchEvent{
		ClientEventID:  uuid.New(),
		MatchID:        s.matchID,
		TeamID:         teamID,
		PlayerID:       playerID,
		Type:           t,
		Phase:          s.clock.Phase(),
		ElapsedSeconds: s.clock.CurrentElapsed(),
		Data:           data,
	})
	if err != nil {
		return queue.Item{}, nil, err
	}

	if sug, ok := s.clock.SuggestStoppage(t); ok {
		return item, &sug, nil
	}
	return item, nil, nil
}

// StartClock resumes the match clock.
func (s *Session) StartClock() {
	s.clock.Start()
}

// PauseClock pauses the match clock.
func (s *Session) PauseClock() {
	s.clock.Pause()
}

// AdvancePhase moves the clock to the given phase and logs the transition
// marker. Illegal transitions are rejected here, before anything is queued.
func (s *Session) AdvancePhase(to event.Phase) (queue.Item, error) {
	tr, err := s.clock.AdvancePhase(to)
	if err != nil {
		return queue.Item{}, err
	}

	return s.enqueue(event.MatchEvent{
		ClientEventID: uuid.New(),
		MatchID:       s.matchID,
		Type:          event.EventTypePhaseChange,
		Phase:         tr.From,
		Data:          event.MustMarshal(event.PhaseChangePayload{From: tr.From, To: tr.To}),
	})
}

// AcceptStoppage applies a pending stoppage suggestion and logs the
// accepted addition.
func (s *Session) AcceptStoppage(suggestionID uuid.UUID) (queue.Item, error) {
	sug, err := s.clock.AcceptSuggestion(suggestionID)
	if err != nil {
		return queue.Item{}, err
	}

	return s.enqueue(event.MatchEvent{
		ClientEventID:  uuid.New(),
		MatchID:        s.matchID,
		Type:           event.EventTypeStoppage,
		Phase:          s.clock.Phase(),
		ElapsedSeconds: s.clock.CurrentElapsed(),
		Data:           event.MustMarshal(event.StoppagePayload{Seconds: sug.Seconds}),
	})
}

// DismissStoppage drops a pending stoppage suggestion; nothing is logged.
func (s *Session) DismissStoppage(suggestionID uuid.UUID) error {
	return s.clock.DismissSuggestion(suggestionID)
}

// LogPenaltyShot records one shootout kick at the clock's current round and
// advances the round counter.
func (s *Session) LogPenaltyShot(teamID *uuid.UUID, scored bool) (queue.Item, error) {
	round := s.clock.Snapshot().ShootoutRound
	item, err := s.enqueue(event.MatchEvent{
		ClientEventID: uuid.New(),
		MatchID:       s.matchID,
		TeamID:        teamID,
		Type:          event.EventTypePenaltyShot,
		Phase:         s.clock.Phase(),
		Data:          event.MustMarshal(event.PenaltyShotPayload{Round: round, Scored: scored}),
	})
	if err != nil {
		return queue.Item{}, err
	}
	s.clock.AdvanceShootoutRound()
	return item, nil
}

// Health surfaces the delivery queue summary for the UI.
func (s *Session) Health() queue.Health {
	return s.syncer.Health()
}

func (s *Session) enqueue(ev event.MatchEvent) (queue.Item, error) {
	ev.DeviceID = s.deviceID
	ev.CreatedAt = s.wall.Now()

	item, err := s.queue.Enqueue(ev)
	if err != nil {
		return queue.Item{}, err
	}
	s.syncer.NotifyConnectivity()
	return item, nil
}
