package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/goccy/go-json"
)

const statusKeyPrefix = "user:status:"

type Badger struct {
	db *badger.DB
}

func OpenBadger(path string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return NewBadger(db), nil
}

func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

func statusKey(id domain.UserID) []byte {
	return []byte(statusKeyPrefix + string(id))
}

// UpdateUserStatus stores status for id. lastSeen is cleared when nil.
func (b *Badger) UpdateUserStatus(ctx context.Context, id domain.UserID, status domain.Status, lastSeen *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := domain.UserStatus{ID: id, Status: status}
	if lastSeen != nil {
		t := lastSeen.UTC()
		rec.LastSeen = &t
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statusKey(id), data)
	})
}

func (b *Badger) GetUserStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.UserStatus{}, err
	}
	var rec domain.UserStatus
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statusKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.UserStatus{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserStatus{}, fmt.Errorf("get status of %q: %w", id, err)
	}
	return rec, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
