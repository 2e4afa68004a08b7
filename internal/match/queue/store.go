package queue

import (
	"errors"
	"fmt"

	"github.com/asdine/storm/v3"
	"github.com/google/uuid"
)

// Store is the crash-safe local persistence behind the queue. SaveItem must
// be durable before it returns.
type Store interface {
	SaveItem(item *Item) error
	LoadAllItems() ([]*Item, error)
	DeleteItem(id uuid.UUID) error
	Close() error
}

// StormStore persists queue items in a local bbolt file via storm.
type StormStore struct {
	db *storm.DB
}

// OpenStormStore opens (or creates) the queue database at path.
func OpenStormStore(path string) (*StormStore, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	return &StormStore{db: db}, nil
}

func (s *StormStore) SaveItem(item *Item) error {
	if err := s.db.Save(item); err != nil {
		return fmt.Errorf("failed to save queue item %s: %w", item.ID, err)
	}
	return nil
}

func (s *StormStore) LoadAllItems() ([]*Item, error) {
	var items []*Item
	if err := s.db.All(&items); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, fmt.Errorf("failed to load queue items: %w", err)
	}
	return items, nil
}

func (s *StormStore) DeleteItem(id uuid.UUID) error {
	err := s.db.DeleteStruct(&Item{ID: id})
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("failed to delete queue item %s: %w", id, err)
	}
	return nil
}

func (s *StormStore) Close() error {
	return s.db.Close()
}
