package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is a named period of the match clock state machine.
type Phase string

const (
	PhaseScheduled  Phase = "SCHEDULED"
	PhaseFirstHalf  Phase = "FIRST_HALF"
	PhaseHalfTime   Phase = "HALF_TIME"
	PhaseSecondHalf Phase = "SECOND_HALF"
	PhaseExtraTime1 Phase = "EXTRA_TIME_1"
	PhaseExtraTime2 Phase = "EXTRA_TIME_2"
	PhasePenalties  Phase = "PENALTIES"
	PhaseFinished   Phase = "FINISHED"
)

// EventType represents the type of logged match event.
type EventType string

const (
	EventTypeGoal         EventType = "Goal"
	EventTypeOwnGoal      EventType = "OwnGoal"
	EventTypeCard         EventType = "Card"
	EventTypeSubstitution EventType = "Substitution"
	EventTypeInjury       EventType = "Injury"
	EventTypeTimeout      EventType = "Timeout"
	EventTypeRaceSplit    EventType = "RaceSplit"
	EventTypePenaltyShot  EventType = "PenaltyShot"
	EventTypePhaseChange  EventType = "PhaseChange"
	EventTypeStoppage     EventType = "Stoppage"
)

// ClockState is the wire-level snapshot of a match clock. It is embedded in
// room snapshots and clock-update broadcasts and never mutated by receivers.
type ClockState struct {
	Phase           Phase `json:"phase"`
	ElapsedSeconds  int   `json:"elapsed_seconds"`
	StoppageSeconds int   `json:"stoppage_seconds"`
	Running         bool  `json:"running"`
	ShootoutRound   int   `json:"shootout_round,omitempty"`
}

// Score is the denormalized current score of a match.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// MatchEvent is a single logged occurrence within a match. It is immutable
// once created; ClientEventID is the idempotency key and is stable across
// delivery retries.
type MatchEvent struct {
	ClientEventID  uuid.UUID       `json:"client_event_id"`
	MatchID        uuid.UUID       `json:"match_id"`
	TeamID         *uuid.UUID      `json:"team_id,omitempty"`
	PlayerID       *uuid.UUID      `json:"player_id,omitempty"`
	Type           EventType       `json:"type"`
	Phase          Phase           `json:"phase"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	Data           json.RawMessage `json:"data,omitempty"`
	DeviceID       string          `json:"device_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

var (
	ErrMissingEventID = errors.New("event is missing client_event_id")
	ErrMissingMatchID = errors.New("event is missing match_id")
	ErrUnknownType    = errors.New("unknown event type")
	ErrUnknownPhase   = errors.New("unknown phase")
)

var knownTypes = map[EventType]bool{
	EventTypeGoal:         true,
	EventTypeOwnGoal:      true,
	EventTypeCard:         true,
	EventTypeSubstitution: true,
	EventTypeInjury:       true,
	EventTypeTimeout:      true,
	EventTypeRaceSplit:    true,
	EventTypePenaltyShot:  true,
	EventTypePhaseChange:  true,
	EventTypeStoppage:     true,
}

var knownPhases = map[Phase]bool{
	PhaseScheduled:  true,
	PhaseFirstHalf:  true,
	PhaseHalfTime:   true,
	PhaseSecondHalf: true,
	PhaseExtraTime1: true,
	PhaseExtraTime2: true,
	PhasePenalties:  true,
	PhaseFinished:   true,
}

// Validate rejects malformed events at the boundary, before they enter the
// queue on the client or the router on the server.
func (e *MatchEvent) Validate() error {
	if e.ClientEventID == uuid.Nil {
		return ErrMissingEventID
	}
	if e.MatchID == uuid.Nil {
		return ErrMissingMatchID
	}
	if !knownTypes[e.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if !knownPhases[e.Phase] {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, e.Phase)
	}
	if e.ElapsedSeconds < 0 {
		return fmt.Errorf("negative elapsed_seconds: %d", e.ElapsedSeconds)
	}
	return nil
}
