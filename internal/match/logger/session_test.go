package logger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/clock"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/queue"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/syncer"
)

type noopTransport struct{}

func (noopTransport) Submit(context.Context, event.MatchEvent) error { return nil }

func newTestSession(t *testing.T, format clock.Format) (*Session, *queue.Queue, *clockwork.FakeClock) {
	t.Helper()
	st, err := queue.OpenStormStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fc := clockwork.NewFakeClock()
	q, err := queue.Open(st, fc, queue.DefaultOptions())
	require.NoError(t, err)

	c := clock.New(fc, format)
	s := syncer.New(q, noopTransport{}, fc, syncer.DefaultOptions())
	return NewSession(uuid.New(), "courtside-1", c, q, s, fc), q, fc
}

func TestLogEventStampsClockAndDevice(t *testing.T) {
	s, q, fc := newTestSession(t, clock.Format{})

	_, err := s.AdvancePhase(event.PhaseFirstHalf)
	require.NoError(t, err)
	s.StartClock()
	fc.Advance(12 * time.Minute)

	teamID := uuid.New()
	item, sug, err := s.LogEvent(event.EventTypeGoal, &teamID, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, event.EventTypeGoal, item.Event.Type)
	assert.Equal(t, event.PhaseFirstHalf, item.Event.Phase)
	assert.Equal(t, 720, item.Event.ElapsedSeconds)
	assert.Equal(t, "courtside-1", item.Event.DeviceID)
	assert.Equal(t, fc.Now(), item.Event.CreatedAt)
	require.NotNil(t, item.Event.TeamID)
	assert.Equal(t, teamID, *item.Event.TeamID)

	// Goals come with a stoppage suggestion for the operator.
	require.NotNil(t, sug)
	assert.Equal(t, 30, sug.Seconds)

	queued, ok := q.Item(item.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, queued.Status)
}

func TestLogEventWithoutSuggestion(t *testing.T) {
	s, _, _ := newTestSession(t, clock.Format{})
	_, err := s.AdvancePhase(event.PhaseFirstHalf)
	require.NoError(t, err)

	_, sug, err := s.LogEvent(event.EventTypeTimeout, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, sug)
}

func TestAdvancePhaseLogsTransitionMarker(t *testing.T) {
	s, q, _ := newTestSession(t, clock.Format{})

	item, err := s.AdvancePhase(event.PhaseFirstHalf)
	require.NoError(t, err)
	assert.Equal(t, event.EventTypePhaseChange, item.Event.Type)
	// The marker carries the phase it departs so the room's conflict check
	// sees the transition origin.
	assert.Equal(t, event.PhaseScheduled, item.Event.Phase)

	payload, err := event.ParseEventPayload(&item.Event)
	require.NoError(t, err)
	assert.Equal(t, event.PhaseChangePayload{
		From: event.PhaseScheduled,
		To:   event.PhaseFirstHalf,
	}, payload)

	// Illegal transitions are rejected before anything is queued.
	_, err = s.AdvancePhase(event.PhaseSecondHalf)
	require.ErrorIs(t, err, clock.ErrIllegalTransition)
	assert.Equal(t, 1, q.Health().Total)
}

func TestAcceptStoppageLogsAcceptedSeconds(t *testing.T) {
	s, _, _ := newTestSession(t, clock.Format{})
	_, err := s.AdvancePhase(event.PhaseFirstHalf)
	require.NoError(t, err)

	_, sug, err := s.LogEvent(event.EventTypeCard, nil, nil, event.CardPayload{Color: "yellow"})
	require.NoError(t, err)
	require.NotNil(t, sug)

	item, err := s.AcceptStoppage(sug.ID)
	require.NoError(t, err)
	assert.Equal(t, event.EventTypeStoppage, item.Event.Type)

	payload, err := event.ParseEventPayload(&item.Event)
	require.NoError(t, err)
	assert.Equal(t, event.StoppagePayload{Seconds: 60}, payload)
	assert.Equal(t, 60, s.Clock().Snapshot().StoppageSeconds)

	// Accepted suggestions are consumed.
	_, err = s.AcceptStoppage(sug.ID)
	assert.ErrorIs(t, err, clock.ErrUnknownSuggestion)
}

func TestDismissStoppageLogsNothing(t *testing.T) {
	s, q, _ := newTestSession(t, clock.Format{})
	_, err := s.AdvancePhase(event.PhaseFirstHalf)
	require.NoError(t, err)

	_, sug, err := s.LogEvent(event.EventTypeInjury, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, sug)

	before := q.Health().Total
	require.NoError(t, s.DismissStoppage(sug.ID))
	assert.Equal(t, before, q.Health().Total)
	assert.Equal(t, 0, s.Clock().Snapshot().StoppageSeconds)
}

func TestLogPenaltyShotAdvancesRounds(t *testing.T) {
	s, _, _ := newTestSession(t, clock.Format{Penalties: true})
	for _, p := range []event.Phase{
		event.PhaseFirstHalf, event.PhaseHalfTime, event.PhaseSecondHalf, event.PhasePenalties,
	} {
		_, err := s.AdvancePhase(p)
		require.NoError(t, err)
	}

	teamID := uuid.New()
	first, err := s.LogPenaltyShot(&teamID, true)
	require.NoError(t, err)
	second, err := s.LogPenaltyShot(&teamID, false)
	require.NoError(t, err)

	payload, err := event.ParseEventPayload(&first.Event)
	require.NoError(t, err)
	assert.Equal(t, event.PenaltyShotPayload{Round: 1, Scored: true}, payload)

	payload, err = event.ParseEventPayload(&second.Event)
	require.NoError(t, err)
	assert.Equal(t, event.PenaltyShotPayload{Round: 2, Scored: false}, payload)
}
