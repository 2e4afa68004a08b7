package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/store"
)

// Router tests run against the real clock: the apply path waits on timers
// only in the persistence-retry branch, so the delays are shrunk instead of
// faked.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PersistRetryDelay = time.Millisecond
	cfg.ClockUpdateInterval = time.Hour // quiet unless a test wants ticks
	return cfg
}

func newTestRouter(t *testing.T, mem *store.Memory, cfg Config) *Router {
	t.Helper()
	rt := New(context.Background(), mem, nil, clockwork.NewRealClock(), cfg)
	t.Cleanup(rt.Close)
	return rt
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, Outbox: make(chan event.Envelope, 16)}
}

func receive(t *testing.T, sub *Subscriber) event.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Outbox:
		require.True(t, ok, "outbox closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return event.Envelope{}
	}
}

func goalFor(matchID, teamID uuid.UUID, phase event.Phase, elapsed int) event.MatchEvent {
	return event.MatchEvent{
		ClientEventID:  uuid.New(),
		MatchID:        matchID,
		TeamID:         &teamID,
		Type:           event.EventTypeGoal,
		Phase:          phase,
		ElapsedSeconds: elapsed,
		DeviceID:       "logger-1",
		CreatedAt:      time.Now(),
	}
}

func transition(matchID uuid.UUID, from, to event.Phase) event.MatchEvent {
	return event.MatchEvent{
		ClientEventID: uuid.New(),
		MatchID:       matchID,
		Type:          event.EventTypePhaseChange,
		Phase:         from,
		Data:          event.MustMarshal(event.PhaseChangePayload{From: from, To: to}),
		DeviceID:      "logger-1",
		CreatedAt:     time.Now(),
	}
}

// kickOff moves a fresh room out of Scheduled so goals are accepted.
func kickOff(t *testing.T, rt *Router, matchID uuid.UUID) {
	t.Helper()
	env, err := rt.Submit(context.Background(), matchID, transition(matchID, event.PhaseScheduled, event.PhaseFirstHalf))
	require.NoError(t, err)
	require.Equal(t, event.MessageAck, env.Type)
}

func TestSubmitAcksAndBroadcasts(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()

	sub := newSubscriber("viewer-1")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	snap := receive(t, sub)
	assert.Equal(t, event.MessageSnapshot, snap.Type)

	kickOff(t, rt, matchID)
	receive(t, sub) // eventApplied for the kickoff
	receive(t, sub) // clockUpdate for the phase change

	ev := goalFor(matchID, teamID, event.PhaseFirstHalf, 600)
	env, err := rt.Submit(context.Background(), matchID, ev)
	require.NoError(t, err)
	require.Equal(t, event.MessageAck, env.Type)

	payload, err := event.ParseMessage(env)
	require.NoError(t, err)
	ack := payload.(event.AckPayload)
	assert.Equal(t, ev.ClientEventID, ack.ClientEventID)
	assert.True(t, ack.Applied)

	applied := receive(t, sub)
	require.Equal(t, event.MessageEventApplied, applied.Type)
	payload, err = event.ParseMessage(applied)
	require.NoError(t, err)
	broadcast := payload.(event.EventAppliedPayload)
	assert.Equal(t, ev.ClientEventID, broadcast.Event.ClientEventID)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, broadcast.Score)
}

func TestJoinDeliversSnapshotBeforeIncrements(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()

	kickOff(t, rt, matchID)
	_, err := rt.Submit(context.Background(), matchID, goalFor(matchID, teamID, event.PhaseFirstHalf, 100))
	require.NoError(t, err)

	sub := newSubscriber("late-joiner")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))

	first := receive(t, sub)
	require.Equal(t, event.MessageSnapshot, first.Type)
	payload, err := event.ParseMessage(first)
	require.NoError(t, err)
	snap := payload.(event.SnapshotPayload)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, snap.Score)
	assert.Equal(t, event.PhaseFirstHalf, snap.Phase)
	assert.Len(t, snap.RecentEvents, 2)

	// Increments submitted after the join arrive after the snapshot.
	_, err = rt.Submit(context.Background(), matchID, goalFor(matchID, teamID, event.PhaseFirstHalf, 200))
	require.NoError(t, err)
	next := receive(t, sub)
	assert.Equal(t, event.MessageEventApplied, next.Type)
}

func TestDuplicateSubmitReAcksWithoutReapplying(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()
	kickOff(t, rt, matchID)

	ev := goalFor(matchID, teamID, event.PhaseFirstHalf, 300)
	for i := 0; i < 2; i++ {
		env, err := rt.Submit(context.Background(), matchID, ev)
		require.NoError(t, err)
		assert.Equal(t, event.MessageAck, env.Type)
	}

	assert.Len(t, mem.Events(matchID), 2) // kickoff + one goal
	assert.Equal(t, 2, mem.PersistCalls())

	sub := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	payload, err := event.ParseMessage(receive(t, sub))
	require.NoError(t, err)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, payload.(event.SnapshotPayload).Score)
}

func TestConflictingPhaseIsNacked(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()
	kickOff(t, rt, matchID)

	stale := goalFor(matchID, teamID, event.PhaseSecondHalf, 100)
	env, err := rt.Submit(context.Background(), matchID, stale)
	require.NoError(t, err)
	require.Equal(t, event.MessageNack, env.Type)

	payload, err := event.ParseMessage(env)
	require.NoError(t, err)
	nack := payload.(event.NackPayload)
	assert.Equal(t, event.NackReasonConflict, nack.Reason)
	assert.Equal(t, stale.ClientEventID, nack.ClientEventID)

	// Rejected events never reach the store.
	assert.Len(t, mem.Events(matchID), 1)
}

func TestInvalidEventIsNacked(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID := uuid.New()

	env, err := rt.Submit(context.Background(), matchID, event.MatchEvent{
		ClientEventID: uuid.New(),
		MatchID:       matchID,
	})
	require.NoError(t, err)
	require.Equal(t, event.MessageNack, env.Type)
	payload, err := event.ParseMessage(env)
	require.NoError(t, err)
	assert.Equal(t, event.NackReasonInvalid, payload.(event.NackPayload).Reason)
}

func TestPersistenceRetryRecoversFromBlip(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID := uuid.New()

	mem.FailNext(1)
	env, err := rt.Submit(context.Background(), matchID, transition(matchID, event.PhaseScheduled, event.PhaseFirstHalf))
	require.NoError(t, err)
	assert.Equal(t, event.MessageAck, env.Type)
	assert.Equal(t, 1, mem.PersistCalls())
}

func TestPersistenceExhaustionNacksAndLeavesStateUntouched(t *testing.T) {
	mem := store.NewMemory()
	cfg := testConfig()
	rt := newTestRouter(t, mem, cfg)
	matchID := uuid.New()

	mem.FailNext(cfg.PersistAttempts)
	ev := transition(matchID, event.PhaseScheduled, event.PhaseFirstHalf)
	env, err := rt.Submit(context.Background(), matchID, ev)
	require.NoError(t, err)
	require.Equal(t, event.MessageNack, env.Type)
	payload, err := event.ParseMessage(env)
	require.NoError(t, err)
	assert.Equal(t, event.NackReasonPersistence, payload.(event.NackPayload).Reason)

	// The sender retries with the same id once the store recovers, and the
	// event applies as if the blip never happened.
	env, err = rt.Submit(context.Background(), matchID, ev)
	require.NoError(t, err)
	assert.Equal(t, event.MessageAck, env.Type)
	assert.Len(t, mem.Events(matchID), 1)
}

func TestEventsPersistInSubmitOrder(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()
	kickOff(t, rt, matchID)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ev := goalFor(matchID, teamID, event.PhaseFirstHalf, 100*(i+1))
		ids = append(ids, ev.ClientEventID)
		env, err := rt.Submit(context.Background(), matchID, ev)
		require.NoError(t, err)
		require.Equal(t, event.MessageAck, env.Type)
	}

	persisted := mem.Events(matchID)
	require.Len(t, persisted, 6)
	for i, id := range ids {
		assert.Equal(t, id, persisted[i+1].ClientEventID)
	}
}

func TestRoomSurvivesZeroSubscribers(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID, teamID := uuid.New(), uuid.New()
	kickOff(t, rt, matchID)

	sub := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	receive(t, sub)
	rt.Leave(matchID, sub.ID)

	// Events keep applying with nobody watching.
	_, err := rt.Submit(context.Background(), matchID, goalFor(matchID, teamID, event.PhaseFirstHalf, 50))
	require.NoError(t, err)

	rejoined := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, rejoined))
	payload, err := event.ParseMessage(receive(t, rejoined))
	require.NoError(t, err)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, payload.(event.SnapshotPayload).Score)
}

func TestLeaveClosesOutbox(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID := uuid.New()

	sub := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	receive(t, sub)
	rt.Leave(matchID, sub.ID)

	select {
	case _, ok := <-sub.Outbox:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("outbox was not closed after leave")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchID := uuid.New()

	// Room for the snapshot only; the first broadcast overflows it.
	sub := &Subscriber{ID: "slow", Outbox: make(chan event.Envelope, 1)}
	require.NoError(t, rt.Join(context.Background(), matchID, sub))

	_, err := rt.Submit(context.Background(), matchID, transition(matchID, event.PhaseScheduled, event.PhaseFirstHalf))
	require.NoError(t, err)

	env := receive(t, sub)
	assert.Equal(t, event.MessageSnapshot, env.Type)
	select {
	case _, ok := <-sub.Outbox:
		assert.False(t, ok, "expected closed outbox, got another envelope")
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
}

func TestSweepTearsDownFinishedRooms(t *testing.T) {
	mem := store.NewMemory()
	cfg := testConfig()
	cfg.FinishedGrace = 0
	rt := newTestRouter(t, mem, cfg)
	matchID := uuid.New()

	sub := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	receive(t, sub)

	// Unfinished rooms are never swept.
	assert.Zero(t, rt.SweepFinished())

	kickOff(t, rt, matchID)
	env, err := rt.Submit(context.Background(), matchID, transition(matchID, event.PhaseFirstHalf, event.PhaseFinished))
	require.NoError(t, err)
	require.Equal(t, event.MessageAck, env.Type)

	assert.Equal(t, 1, rt.SweepFinished())
	assert.Equal(t, 0, rt.Stats()["rooms"])

	// Teardown releases the room's subscribers.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-sub.Outbox:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomSeedsFromDurableSnapshot(t *testing.T) {
	mem := store.NewMemory()
	matchID, teamID := uuid.New(), uuid.New()

	first := newTestRouter(t, mem, testConfig())
	kickOff(t, first, matchID)
	_, err := first.Submit(context.Background(), matchID, goalFor(matchID, teamID, event.PhaseFirstHalf, 120))
	require.NoError(t, err)
	first.Close()

	// A second router instance over the same store resumes the match.
	second := newTestRouter(t, mem, testConfig())
	sub := newSubscriber("viewer")
	require.NoError(t, second.Join(context.Background(), matchID, sub))
	payload, err := event.ParseMessage(receive(t, sub))
	require.NoError(t, err)
	snap := payload.(event.SnapshotPayload)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, snap.Score)
	assert.Equal(t, event.PhaseFirstHalf, snap.Phase)
}

func TestReplayAfterRestartDoesNotDoubleCount(t *testing.T) {
	mem := store.NewMemory()
	matchID, teamID := uuid.New(), uuid.New()

	first := newTestRouter(t, mem, testConfig())
	kickOff(t, first, matchID)
	goal := goalFor(matchID, teamID, event.PhaseFirstHalf, 120)
	env, err := first.Submit(context.Background(), matchID, goal)
	require.NoError(t, err)
	require.Equal(t, event.MessageAck, env.Type)
	first.Close()

	// The ack was lost, the router restarted, and the sender retries the
	// same event against a room seeded from the snapshot. The fresh ledger
	// has never seen the id; the events table has.
	second := newTestRouter(t, mem, testConfig())
	env, err = second.Submit(context.Background(), matchID, goal)
	require.NoError(t, err)
	assert.Equal(t, event.MessageAck, env.Type)

	assert.Len(t, mem.Events(matchID), 2) // kickoff + one goal, not two
	assert.Equal(t, 2, mem.PersistCalls())

	sub := newSubscriber("viewer")
	require.NoError(t, second.Join(context.Background(), matchID, sub))
	payload, err := event.ParseMessage(receive(t, sub))
	require.NoError(t, err)
	assert.Equal(t, event.Score{Home: 1, Away: 0}, payload.(event.SnapshotPayload).Score)

	// A second retry on the same router now hits the ledger fast path.
	env, err = second.Submit(context.Background(), matchID, goal)
	require.NoError(t, err)
	assert.Equal(t, event.MessageAck, env.Type)
	assert.Equal(t, 2, mem.PersistCalls())
}

func TestPeriodicClockBroadcast(t *testing.T) {
	mem := store.NewMemory()
	cfg := testConfig()
	cfg.ClockUpdateInterval = 10 * time.Millisecond
	rt := newTestRouter(t, mem, cfg)
	matchID := uuid.New()

	sub := newSubscriber("viewer")
	require.NoError(t, rt.Join(context.Background(), matchID, sub))
	receive(t, sub) // snapshot

	env := receive(t, sub)
	assert.Equal(t, event.MessageClockUpdate, env.Type)
}

func TestStatsCountsRoomsAndSubscribers(t *testing.T) {
	mem := store.NewMemory()
	rt := newTestRouter(t, mem, testConfig())
	matchA, matchB := uuid.New(), uuid.New()

	subA := newSubscriber("viewer-a")
	require.NoError(t, rt.Join(context.Background(), matchA, subA))
	receive(t, subA)
	subB := newSubscriber("viewer-b")
	require.NoError(t, rt.Join(context.Background(), matchB, subB))
	receive(t, subB)

	stats := rt.Stats()
	assert.Equal(t, 2, stats["rooms"])
	assert.Equal(t, 2, stats["subscribers"])
}
