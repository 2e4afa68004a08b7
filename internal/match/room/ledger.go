package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// Ledger is the dedup ledger of already-applied client event ids. Entries
// expire on a TTL sized to the life of a match, so the set stays bounded
// without ever forgetting an id while its match can still see retries.
type Ledger struct {
	cache *ttlcache.Cache[uuid.UUID, struct{}]
}

// NewLedger creates a ledger whose entries live for ttl after last touch.
func NewLedger(ttl time.Duration) *Ledger {
	cache := ttlcache.New(
		ttlcache.WithTTL[uuid.UUID, struct{}](ttl),
	)
	go cache.Start()
	return &Ledger{cache: cache}
}

// Seen reports whether the id was already applied. A hit refreshes the TTL,
// keeping ids alive while retries for them still arrive.
func (l *Ledger) Seen(id uuid.UUID) bool {
	return l.cache.Get(id) != nil
}

// Record marks an id as applied.
func (l *Ledger) Record(id uuid.UUID) {
	l.cache.Set(id, struct{}{}, ttlcache.DefaultTTL)
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	return l.cache.Len()
}

// Stop halts the expiry loop.
func (l *Ledger) Stop() {
	l.cache.Stop()
}
