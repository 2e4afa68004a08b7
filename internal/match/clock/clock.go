package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
)

// ErrIllegalTransition is returned when AdvancePhase is asked for a phase
// the current phase cannot legally reach.
var ErrIllegalTransition = errors.New("illegal phase transition")

// ErrUnknownSuggestion is returned when accepting or dismissing a stoppage
// suggestion that is not pending.
var ErrUnknownSuggestion = errors.New("unknown stoppage suggestion")

// Format describes which late-game phases a competition uses.
type Format struct {
	// ExtraTime enables the two extra-time periods after a drawn second half.
	ExtraTime bool
	// Penalties enables a shootout after a drawn second half (knockout with
	// no extra time) or after extra time.
	Penalties bool
}

// PhaseTransition is the marker emitted by AdvancePhase. The host wraps it
// into a MatchEvent and enqueues it like any other logged event.
type PhaseTransition struct {
	From event.Phase
	To   event.Phase
	At   time.Time
}

// Suggestion is a proposed stoppage-time addition. Suggestions are never
// auto-applied: the operator accepts or dismisses each one explicitly.
type Suggestion struct {
	ID        uuid.UUID
	EventType event.EventType
	Seconds   int
}

// Per-type stoppage suggestions, in seconds.
var stoppageSuggestions = map[event.EventType]int{
	event.EventTypeSubstitution: 30,
	event.EventTypeCard:         60,
	event.EventTypeInjury:       60,
	event.EventTypeGoal:         30,
}

// Clock is the match-phase/time state machine for one match session. It does
// no I/O; time comes from the injected clockwork.Clock so tests can drive it
// with a fake. Callers serialize access per match session; the internal
// mutex only guards against incidental cross-goroutine reads.
type Clock struct {
	mu     sync.Mutex
	clk    clockwork.Clock
	format Format

	phase         event.Phase
	elapsed       time.Duration
	stoppage      time.Duration
	running       bool
	lastResume    time.Time
	shootoutRound int

	pending map[uuid.UUID]Suggestion
}

// New returns a Clock at the Scheduled phase.
func New(clk clockwork.Clock, format Format) *Clock {
	return &Clock{
		clk:     clk,
		format:  format,
		phase:   event.PhaseScheduled,
		pending: make(map[uuid.UUID]Suggestion),
	}
}

// Start resumes the clock. No-op if already running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.lastResume = c.clk.Now()
}

// Pause folds the time since the last resume into the elapsed counter and
// stops the clock. No-op if already paused.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fold()
}

// fold accumulates running time. Caller holds the lock.
func (c *Clock) fold() {
	if !c.running {
		return
	}
	if d := c.clk.Now().Sub(c.lastResume); d > 0 {
		c.elapsed += d
	}
	c.running = false
}

// CurrentElapsed returns whole elapsed seconds for the active phase,
// including time since the last resume. Never negative.
func (c *Clock) CurrentElapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.elapsed
	if c.running {
		if d := c.clk.Now().Sub(c.lastResume); d > 0 {
			elapsed += d
		}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return int(elapsed / time.Second)
}

// AddStoppage adds operator-accepted stoppage time to the current phase.
// Negative additions are clamped so the counter never goes below zero.
func (c *Clock) AddStoppage(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stoppage += time.Duration(seconds) * time.Second
	if c.stoppage < 0 {
		c.stoppage = 0
	}
}

// AdvancePhase moves the clock to the given phase. It pauses the clock,
// resets the phase-scoped counters, and returns a transition marker for the
// host to log. Illegal transitions are rejected without mutating anything.
func (c *Clock) AdvancePhase(to event.Phase) (PhaseTransition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !legalTransition(c.phase, to, c.format) {
		return PhaseTransition{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.phase, to)
	}

	c.fold()
	tr := PhaseTransition{From: c.phase, To: to, At: c.clk.Now()}
	c.phase = to
	c.elapsed = 0
	c.stoppage = 0
	if to == event.PhasePenalties {
		c.shootoutRound = 1
	}
	return tr, nil
}

// legalTransition encodes the phase ordering. Penalties is reachable only
// from ExtraTime2, or from SecondHalf in knockout formats with no extra
// time; whether the match is actually drawn is arbitrated by the operator
// and re-checked by the room against its authoritative score.
func legalTransition(from, to event.Phase, f Format) bool {
	switch from {
	case event.PhaseScheduled:
		return to == event.PhaseFirstHalf
	case event.PhaseFirstHalf:
		return to == event.PhaseHalfTime
	case event.PhaseHalfTime:
		return to == event.PhaseSecondHalf
	case event.PhaseSecondHalf:
		switch to {
		case event.PhaseFinished:
			return true
		case event.PhaseExtraTime1:
			return f.ExtraTime
		case event.PhasePenalties:
			return f.Penalties && !f.ExtraTime
		}
	case event.PhaseExtraTime1:
		return to == event.PhaseExtraTime2
	case event.PhaseExtraTime2:
		return to == event.PhaseFinished || (to == event.PhasePenalties && f.Penalties)
	case event.PhasePenalties:
		return to == event.PhaseFinished
	}
	return false
}

// AdvanceShootoutRound bumps the shootout round counter. Only meaningful in
// the Penalties phase, where rounds replace elapsed time.
func (c *Clock) AdvanceShootoutRound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != event.PhasePenalties {
		return 0
	}
	c.shootoutRound++
	return c.shootoutRound
}

// Phase returns the current phase.
func (c *Clock) Phase() event.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Snapshot returns an immutable wire-level view of the clock.
func (c *Clock) Snapshot() event.ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.elapsed
	if c.running {
		if d := c.clk.Now().Sub(c.lastResume); d > 0 {
			elapsed += d
		}
	}
	return event.ClockState{
		Phase:           c.phase,
		ElapsedSeconds:  int(elapsed / time.Second),
		StoppageSeconds: int(c.stoppage / time.Second),
		Running:         c.running,
		ShootoutRound:   c.shootoutRound,
	}
}

// SuggestStoppage proposes a stoppage addition for an event type. The
// returned suggestion stays pending until accepted or dismissed. Types with
// no per-type constant produce no suggestion.
func (c *Clock) SuggestStoppage(t event.EventType) (Suggestion, bool) {
	seconds, ok := stoppageSuggestions[t]
	if !ok {
		return Suggestion{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Suggestion{ID: uuid.New(), EventType: t, Seconds: seconds}
	c.pending[s.ID] = s
	return s, true
}

// AcceptSuggestion applies a pending suggestion to the stoppage counter and
// returns it so the caller can log the accepted addition.
func (c *Clock) AcceptSuggestion(id uuid.UUID) (Suggestion, error) {
	c.mu.Lock()
	s, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return Suggestion{}, ErrUnknownSuggestion
	}
	delete(c.pending, id)
	c.mu.Unlock()

	c.AddStoppage(s.Seconds)
	return s, nil
}

// DismissSuggestion drops a pending suggestion without applying it.
func (c *Clock) DismissSuggestion(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return ErrUnknownSuggestion
	}
	delete(c.pending, id)
	return nil
}

// PendingSuggestions returns the suggestions awaiting an operator decision.
func (c *Clock) PendingSuggestions() []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Suggestion, 0, len(c.pending))
	for _, s := range c.pending {
		out = append(out, s)
	}
	return out
}
