package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/queue"
)

// scriptedTransport pops one scripted outcome per Submit call and records
// everything it successfully delivered. An exhausted script means success.
type scriptedTransport struct {
	mu        sync.Mutex
	script    []error
	delivered []event.MatchEvent
}

func (t *scriptedTransport) Submit(_ context.Context, ev event.MatchEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.script) > 0 {
		err := t.script[0]
		t.script = t.script[1:]
		if err != nil {
			return err
		}
	}
	t.delivered = append(t.delivered, ev)
	return nil
}

func (t *scriptedTransport) deliveredIDs() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uuid.UUID, len(t.delivered))
	for i, ev := range t.delivered {
		ids[i] = ev.ClientEventID
	}
	return ids
}

func newTestSyncer(t *testing.T, transport Transport) (*Synchronizer, *queue.Queue, *clockwork.FakeClock) {
	t.Helper()
	st, err := queue.OpenStormStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fc := clockwork.NewFakeClock()
	opts := queue.DefaultOptions()
	opts.Jitter = 0
	q, err := queue.Open(st, fc, opts)
	require.NoError(t, err)

	return New(q, transport, fc, DefaultOptions()), q, fc
}

func enqueueN(t *testing.T, q *queue.Queue, matchID uuid.UUID, n int) []queue.Item {
	t.Helper()
	items := make([]queue.Item, 0, n)
	for i := 0; i < n; i++ {
		it, err := q.Enqueue(event.MatchEvent{
			ClientEventID: uuid.New(),
			MatchID:       matchID,
			Type:          event.EventTypeGoal,
			Phase:         event.PhaseFirstHalf,
			CreatedAt:     time.Now(),
		})
		require.NoError(t, err)
		items = append(items, it)
	}
	return items
}

func TestDrainDeliversInEnqueueOrder(t *testing.T) {
	transport := &scriptedTransport{}
	s, q, _ := newTestSyncer(t, transport)
	matchID := uuid.New()
	items := enqueueN(t, q, matchID, 3)

	s.drainMatch(context.Background(), matchID)

	ids := transport.deliveredIDs()
	require.Len(t, ids, 3)
	for i, it := range items {
		assert.Equal(t, it.ID, ids[i])
		got, ok := q.Item(it.ID)
		require.True(t, ok)
		assert.Equal(t, queue.StatusCompleted, got.Status)
	}
}

func TestOfflineEventsFlushAfterReconnect(t *testing.T) {
	// Three attempts fail while the link is down; once it recovers, the
	// backlog drains in order and everything completes.
	transport := &scriptedTransport{script: []error{
		errors.New("dial tcp: no route to host"),
	}}
	s, q, fc := newTestSyncer(t, transport)
	matchID := uuid.New()
	items := enqueueN(t, q, matchID, 3)

	s.drainMatch(context.Background(), matchID)
	assert.Empty(t, transport.deliveredIDs())

	head, ok := q.Item(items[0].ID)
	require.True(t, ok)
	assert.Equal(t, 1, head.Attempts)

	// Still backed off: the drain must not touch the match yet.
	s.drainMatch(context.Background(), matchID)
	assert.Empty(t, transport.deliveredIDs())

	fc.Advance(2 * time.Second)
	s.drainMatch(context.Background(), matchID)

	ids := transport.deliveredIDs()
	require.Len(t, ids, 3)
	for i, it := range items {
		assert.Equal(t, it.ID, ids[i])
	}
	assert.Zero(t, s.Health().Pending)
}

func TestBackedOffHeadBlocksLaterItems(t *testing.T) {
	transport := &scriptedTransport{script: []error{errors.New("timeout")}}
	s, q, _ := newTestSyncer(t, transport)
	matchID := uuid.New()
	enqueueN(t, q, matchID, 2)

	s.drainMatch(context.Background(), matchID)
	s.drainMatch(context.Background(), matchID)

	// The second item must not jump the queue while the head backs off.
	assert.Empty(t, transport.deliveredIDs())
}

func TestConflictParksHeadUntilDiscard(t *testing.T) {
	transport := &scriptedTransport{script: []error{
		fmt.Errorf("%w: phase mismatch", ErrConflict),
	}}
	s, q, _ := newTestSyncer(t, transport)
	matchID := uuid.New()
	items := enqueueN(t, q, matchID, 2)

	s.drainMatch(context.Background(), matchID)

	parked, ok := q.Item(items[0].ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusError, parked.Status)
	assert.Contains(t, parked.LastError, "phase mismatch")

	// Parked items never retry on their own and block the match.
	s.drainMatch(context.Background(), matchID)
	assert.Empty(t, transport.deliveredIDs())
	assert.Equal(t, 1, s.Health().Failed)

	require.NoError(t, s.Discard(items[0].ID))
	s.drainMatch(context.Background(), matchID)

	ids := transport.deliveredIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, items[1].ID, ids[0])
}

func TestAttemptCapParksItem(t *testing.T) {
	fail := errors.New("persistent failure")
	transport := &scriptedTransport{script: []error{fail, fail, fail}}

	st, err := queue.OpenStormStore(filepath.Join(t.TempDir(), "cap.db"))
	require.NoError(t, err)
	defer st.Close()
	fc := clockwork.NewFakeClock()
	q, err := queue.Open(st, fc, queue.Options{
		BackoffStart: time.Second, BackoffCap: time.Second, MaxAttempts: 3, Jitter: 0,
	})
	require.NoError(t, err)
	s := New(q, transport, fc, DefaultOptions())

	matchID := uuid.New()
	it := enqueueN(t, q, matchID, 1)[0]

	for i := 0; i < 3; i++ {
		s.drainMatch(context.Background(), matchID)
		fc.Advance(time.Second)
	}

	got, ok := q.Item(it.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusError, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 1, s.Health().Failed)
}

func TestRetryAllRevivesParkedItems(t *testing.T) {
	transport := &scriptedTransport{script: []error{
		fmt.Errorf("%w: phase mismatch", ErrConflict),
	}}
	s, q, _ := newTestSyncer(t, transport)
	matchID := uuid.New()
	it := enqueueN(t, q, matchID, 1)[0]

	s.drainMatch(context.Background(), matchID)
	require.Equal(t, 1, s.Health().Failed)

	require.NoError(t, s.RetryAll())
	s.drainMatch(context.Background(), matchID)

	got, ok := q.Item(it.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusCompleted, got.Status)
}

func TestDrainAllCoversEveryMatch(t *testing.T) {
	transport := &scriptedTransport{}
	s, q, _ := newTestSyncer(t, transport)

	matchA, matchB := uuid.New(), uuid.New()
	enqueueN(t, q, matchA, 2)
	enqueueN(t, q, matchB, 1)

	s.drainAll(context.Background())
	s.wg.Wait()

	assert.Len(t, transport.deliveredIDs(), 3)
	assert.Zero(t, s.Health().Pending)
	assert.Empty(t, q.Matches())
}

func TestRunStopsOnCancel(t *testing.T) {
	transport := &scriptedTransport{}
	s, q, _ := newTestSyncer(t, transport)
	enqueueN(t, q, uuid.New(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// The initial drain delivers the backlog without any tick.
	require.Eventually(t, func() bool {
		return len(transport.deliveredIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
