package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType tags every envelope crossing the transport. The set is closed:
// the router and the client transport switch over it exhaustively and reject
// anything else at the boundary.
type MessageType string

const (
	MessageJoin         MessageType = "match.join"
	MessageLeave        MessageType = "match.leave"
	MessageSubmitEvent  MessageType = "match.submitEvent"
	MessageAck          MessageType = "match.ack"
	MessageNack         MessageType = "match.nack"
	MessageSnapshot     MessageType = "match.snapshot"
	MessageEventApplied MessageType = "match.eventApplied"
	MessageClockUpdate  MessageType = "match.clockUpdate"
)

// Envelope is the framing for every transport message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinPayload subscribes the connection to a match room.
type JoinPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

// LeavePayload unsubscribes the connection from a match room.
type LeavePayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

// SubmitEventPayload delivers one logged event to the router.
type SubmitEventPayload struct {
	MatchID uuid.UUID  `json:"match_id"`
	Event   MatchEvent `json:"event"`
}

// AckPayload confirms an event was applied (or was already applied).
type AckPayload struct {
	ClientEventID uuid.UUID `json:"client_event_id"`
	Applied       bool      `json:"applied"`
}

// Nack reason codes.
const (
	NackReasonConflict    = "conflict"
	NackReasonPersistence = "persistence"
	NackReasonInvalid     = "invalid"
)

// NackPayload rejects a submitted event.
type NackPayload struct {
	ClientEventID uuid.UUID `json:"client_event_id"`
	Reason        string    `json:"reason"`
	Detail        string    `json:"detail,omitempty"`
}

// SnapshotPayload is the full room state sent to a subscriber on join,
// always before any incremental message.
type SnapshotPayload struct {
	MatchID      uuid.UUID    `json:"match_id"`
	Clock        ClockState   `json:"clock"`
	Score        Score        `json:"score"`
	Phase        Phase        `json:"phase"`
	RecentEvents []MatchEvent `json:"recent_events"`
}

// EventAppliedPayload broadcasts an applied event plus the denormalized
// fields it changed.
type EventAppliedPayload struct {
	MatchID uuid.UUID  `json:"match_id"`
	Event   MatchEvent `json:"event"`
	Score   Score      `json:"score"`
	Phase   Phase      `json:"phase"`
}

// ClockUpdatePayload broadcasts the clock on phase transitions, stoppage
// changes, and the periodic room tick.
type ClockUpdatePayload struct {
	MatchID uuid.UUID  `json:"match_id"`
	Clock   ClockState `json:"clock"`
}

// NewEnvelope wraps a payload in a typed envelope.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// ParseMessage parses an envelope's data into the payload struct for its
// type. Unknown message types are an error, not a silent skip.
func ParseMessage(env Envelope) (interface{}, error) {
	switch env.Type {
	case MessageJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageLeave:
		var p LeavePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageSubmitEvent:
		var p SubmitEventPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageAck:
		var p AckPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageNack:
		var p NackPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageSnapshot:
		var p SnapshotPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageEventApplied:
		var p EventAppliedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case MessageClockUpdate:
		var p ClockUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
