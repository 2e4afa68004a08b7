package room

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
)

// ErrPhaseConflict marks an event whose phase disagrees with the room's
// authoritative phase. Conflicts are reported to the sender, never silently
// applied or dropped.
var ErrPhaseConflict = errors.New("event phase conflicts with authoritative phase")

// tailLimit bounds the recent-event tail kept for snapshots.
const tailLimit = 50

// State is the authoritative view of one match. It is derived solely by
// folding applied events in order; nothing mutates it directly.
type State struct {
	MatchID       uuid.UUID        `json:"match_id"`
	HomeTeamID    uuid.UUID        `json:"home_team_id"`
	AwayTeamID    uuid.UUID        `json:"away_team_id"`
	Phase         event.Phase      `json:"phase"`
	Score         event.Score      `json:"score"`
	ShootoutScore event.Score      `json:"shootout_score"`
	Clock         event.ClockState `json:"clock"`
	Applied       int              `json:"applied"`
	Tail          []event.MatchEvent `json:"tail"`
}

// NewState returns the zero-event state of a match.
func NewState(matchID, homeTeamID, awayTeamID uuid.UUID) *State {
	return &State{
		MatchID:    matchID,
		HomeTeamID: homeTeamID,
		AwayTeamID: awayTeamID,
		Phase:      event.PhaseScheduled,
		Clock:      event.ClockState{Phase: event.PhaseScheduled},
	}
}

// CheckPhase validates an event against the authoritative phase before it is
// folded. Ordinary events must carry the current phase. Phase-change events
// must depart from the current phase along a declared transition.
func (s *State) CheckPhase(ev *event.MatchEvent) error {
	if ev.Type == event.EventTypePhaseChange {
		payload, err := event.ParseEventPayload(ev)
		if err != nil {
			return fmt.Errorf("malformed phase change payload: %w", err)
		}
		p := payload.(event.PhaseChangePayload)
		if p.From != s.Phase {
			return fmt.Errorf("%w: transition departs %s but match is in %s",
				ErrPhaseConflict, p.From, s.Phase)
		}
		return nil
	}
	if ev.Phase != s.Phase {
		return fmt.Errorf("%w: event logged in %s but match is in %s",
			ErrPhaseConflict, ev.Phase, s.Phase)
	}
	return nil
}

// Fold applies one event to the state. Callers have already deduplicated and
// phase-checked the event; Fold itself never fails on score arithmetic, and
// unknown details simply land in the tail.
func (s *State) Fold(ev event.MatchEvent) error {
	if ev.TeamID != nil {
		s.adoptTeam(*ev.TeamID)
	}

	switch ev.Type {
	case event.EventTypeGoal:
		s.addGoal(ev.TeamID, false)

	case event.EventTypeOwnGoal:
		// An own goal credits the opposing team.
		s.addGoal(ev.TeamID, true)

	case event.EventTypePenaltyShot:
		payload, err := event.ParseEventPayload(&ev)
		if err != nil {
			return fmt.Errorf("malformed penalty shot payload: %w", err)
		}
		if p := payload.(event.PenaltyShotPayload); p.Scored && ev.TeamID != nil {
			if *ev.TeamID == s.HomeTeamID {
				s.ShootoutScore.Home++
			} else if *ev.TeamID == s.AwayTeamID {
				s.ShootoutScore.Away++
			}
		}

	case event.EventTypePhaseChange:
		payload, err := event.ParseEventPayload(&ev)
		if err != nil {
			return fmt.Errorf("malformed phase change payload: %w", err)
		}
		p := payload.(event.PhaseChangePayload)
		s.Phase = p.To
		s.Clock = event.ClockState{Phase: p.To, ShootoutRound: s.Clock.ShootoutRound}

	case event.EventTypeStoppage:
		payload, err := event.ParseEventPayload(&ev)
		if err != nil {
			return fmt.Errorf("malformed stoppage payload: %w", err)
		}
		p := payload.(event.StoppagePayload)
		s.Clock.StoppageSeconds += p.Seconds
		if s.Clock.StoppageSeconds < 0 {
			s.Clock.StoppageSeconds = 0
		}
	}

	if ev.Type != event.EventTypePhaseChange && ev.ElapsedSeconds > s.Clock.ElapsedSeconds {
		s.Clock.ElapsedSeconds = ev.ElapsedSeconds
	}

	s.Applied++
	s.Tail = append(s.Tail, ev)
	if len(s.Tail) > tailLimit {
		s.Tail = s.Tail[len(s.Tail)-tailLimit:]
	}
	return nil
}

// adoptTeam learns the match's two team ids from the event stream when the
// room was opened without metadata. The first team seen takes the home slot.
// Single-writer-per-match means the stream only ever names two teams.
func (s *State) adoptTeam(teamID uuid.UUID) {
	if teamID == s.HomeTeamID || teamID == s.AwayTeamID {
		return
	}
	if s.HomeTeamID == uuid.Nil {
		s.HomeTeamID = teamID
	} else if s.AwayTeamID == uuid.Nil {
		s.AwayTeamID = teamID
	}
}

func (s *State) addGoal(teamID *uuid.UUID, ownGoal bool) {
	if teamID == nil {
		return
	}
	scoredForHome := *teamID == s.HomeTeamID
	if ownGoal {
		scoredForHome = !scoredForHome
	}
	if scoredForHome {
		s.Score.Home++
	} else {
		s.Score.Away++
	}
}

// Snapshot builds the full-state payload sent to a joining subscriber. The
// tail is copied so later folds cannot mutate a snapshot already in flight.
func (s *State) Snapshot() event.SnapshotPayload {
	tail := make([]event.MatchEvent, len(s.Tail))
	copy(tail, s.Tail)
	return event.SnapshotPayload{
		MatchID:      s.MatchID,
		Clock:        s.Clock,
		Score:        s.Score,
		Phase:        s.Phase,
		RecentEvents: tail,
	}
}
