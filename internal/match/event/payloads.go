package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event payload types carried in MatchEvent.Data. They are shared between the
// logger-side queue and the server-side room fold.

// GoalPayload is the payload for a Goal or OwnGoal event.
type GoalPayload struct {
	AssistPlayerID *uuid.UUID `json:"assist_player_id,omitempty"`
	PenaltyKick    bool       `json:"penalty_kick,omitempty"`
}

// CardPayload is the payload for a Card event.
type CardPayload struct {
	Color string `json:"color"` // "yellow" or "red"
}

// SubstitutionPayload is the payload for a Substitution event.
type SubstitutionPayload struct {
	PlayerOnID  uuid.UUID `json:"player_on_id"`
	PlayerOffID uuid.UUID `json:"player_off_id"`
}

// PhaseChangePayload marks a clock phase transition.
type PhaseChangePayload struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// StoppagePayload carries an operator-accepted stoppage-time addition.
type StoppagePayload struct {
	Seconds int `json:"seconds"`
}

// PenaltyShotPayload is one kick of a penalty shootout.
type PenaltyShotPayload struct {
	Round  int  `json:"round"`
	Scored bool `json:"scored"`
}

// RaceSplitPayload is a lap/split time for race-style events.
type RaceSplitPayload struct {
	Lap         int   `json:"lap"`
	SplitMillis int64 `json:"split_millis"`
}

// ParseEventPayload parses a MatchEvent's Data into the payload struct for
// its type. Types with no structured payload (Injury, Timeout) return nil.
func ParseEventPayload(e *MatchEvent) (interface{}, error) {
	switch e.Type {
	case EventTypeGoal, EventTypeOwnGoal:
		var p GoalPayload
		if len(e.Data) > 0 {
			if err := json.Unmarshal(e.Data, &p); err != nil {
				return nil, err
			}
		}
		return p, nil

	case EventTypeCard:
		var p CardPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeSubstitution:
		var p SubstitutionPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypePhaseChange:
		var p PhaseChangePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeStoppage:
		var p StoppagePayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypePenaltyShot:
		var p PenaltyShotPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeRaceSplit:
		var p RaceSplitPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, nil
	}
}

// MustMarshal marshals a payload for embedding in a MatchEvent. Payload
// structs contain no unmarshalable fields, so failure means a programming
// error.
func MustMarshal(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return data
}
