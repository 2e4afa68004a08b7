package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/room"
)

// ErrNotFound is returned by LoadSnapshot for a match with no stored state.
var ErrNotFound = errors.New("match snapshot not found")

// Store is the durable server-side store behind the router. The router
// never broadcasts an event it has not persisted.
type Store interface {
	// PersistEvent durably records an applied event. Re-persisting the same
	// client event id is a no-op; inserted reports whether a row was actually
	// written, so the router can detect replays its in-memory ledger has not
	// seen (a retry landing on a restarted router).
	PersistEvent(ctx context.Context, matchID uuid.UUID, ev event.MatchEvent) (inserted bool, err error)
	// SaveSnapshot upserts the denormalized room state.
	SaveSnapshot(ctx context.Context, st *room.State) error
	// LoadSnapshot returns the stored room state, or ErrNotFound.
	LoadSnapshot(ctx context.Context, matchID uuid.UUID) (*room.State, error)
}
