package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/room"
)

// ErrUnavailable is the injected failure returned after FailNext.
var ErrUnavailable = errors.New("store unavailable")

// Memory is an in-memory Store for development and tests. FailNext makes
// the next n PersistEvent calls fail, to exercise the router's bounded
// persistence retry.
type Memory struct {
	mu        sync.Mutex
	events    map[uuid.UUID][]event.MatchEvent
	eventIDs  map[uuid.UUID]bool
	snapshots map[uuid.UUID][]byte
	failNext  int
	persists  int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:    make(map[uuid.UUID][]event.MatchEvent),
		eventIDs:  make(map[uuid.UUID]bool),
		snapshots: make(map[uuid.UUID][]byte),
	}
}

// FailNext makes the next n PersistEvent calls return failErr.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// PersistCalls returns how many PersistEvent calls actually recorded an
// event (duplicates are no-ops and do not count).
func (m *Memory) PersistCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persists
}

// Events returns the persisted events for a match in persistence order.
func (m *Memory) Events(matchID uuid.UUID) []event.MatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.MatchEvent, len(m.events[matchID]))
	copy(out, m.events[matchID])
	return out
}

func (m *Memory) PersistEvent(ctx context.Context, matchID uuid.UUID, ev event.MatchEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return false, ErrUnavailable
	}
	if m.eventIDs[ev.ClientEventID] {
		return false, nil
	}
	m.eventIDs[ev.ClientEventID] = true
	m.events[matchID] = append(m.events[matchID], ev)
	m.persists++
	return true, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, st *room.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[st.MatchID] = data
	return nil
}

func (m *Memory) LoadSnapshot(ctx context.Context, matchID uuid.UUID) (*room.State, error) {
	m.mu.Lock()
	data, ok := m.snapshots[matchID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var st room.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
