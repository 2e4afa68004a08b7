package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/room"
)

// Postgres implements Store on a pgx connection pool. Schema in schema.sql.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool; the caller owns the pool's lifecycle.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const insertEventSQL = `
INSERT INTO match_events (
	client_event_id, match_id, team_id, player_id, device_id,
	event_type, phase, elapsed_seconds, data, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (client_event_id) DO NOTHING`

func (p *Postgres) PersistEvent(ctx context.Context, matchID uuid.UUID, ev event.MatchEvent) (bool, error) {
	tag, err := p.pool.Exec(ctx, insertEventSQL,
		ev.ClientEventID,
		matchID,
		ev.TeamID,
		ev.PlayerID,
		ev.DeviceID,
		string(ev.Type),
		string(ev.Phase),
		ev.ElapsedSeconds,
		[]byte(ev.Data),
		ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to persist event %s: %w", ev.ClientEventID, err)
	}
	// Zero rows affected means the conflict target fired: this event id is
	// already on record from a previous process lifetime.
	return tag.RowsAffected() > 0, nil
}

const upsertSnapshotSQL = `
INSERT INTO match_snapshots (match_id, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (match_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

func (p *Postgres) SaveSnapshot(ctx context.Context, st *room.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for match %s: %w", st.MatchID, err)
	}
	if _, err := p.pool.Exec(ctx, upsertSnapshotSQL, st.MatchID, data); err != nil {
		return fmt.Errorf("failed to save snapshot for match %s: %w", st.MatchID, err)
	}
	return nil
}

const loadSnapshotSQL = `SELECT state FROM match_snapshots WHERE match_id = $1`

func (p *Postgres) LoadSnapshot(ctx context.Context, matchID uuid.UUID) (*room.State, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, loadSnapshotSQL, matchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for match %s: %w", matchID, err)
	}

	var st room.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for match %s: %w", matchID, err)
	}
	return &st, nil
}
