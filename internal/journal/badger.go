package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
)

var badgerKeyPrefix = []byte("evt/")

// BadgerJournal stores events in Badger keyed by big-endian index, so a
// forward iteration replays the chain in append order.
type BadgerJournal struct {
	mu   sync.Mutex
	db   *badger.DB
	last *Event
}

// NewBadgerJournal recovers the chain head with a reverse iteration over
// the event keyspace.
func NewBadgerJournal(db *badger.DB) (*BadgerJournal, error) {
	j := &BadgerJournal{db: db}
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = badgerKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the prefix range, then step back to the head.
		it.Seek(append(badgerKeyPrefix, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if !it.ValidForPrefix(badgerKeyPrefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var ev Event
			if err := json.Unmarshal(val, &ev); err != nil {
				return err
			}
			j.last = &ev
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("journal: badger recover: %w", err)
	}
	return j, nil
}

func badgerKey(idx uint64) []byte {
	key := make([]byte, len(badgerKeyPrefix)+8)
	copy(key, badgerKeyPrefix)
	binary.BigEndian.PutUint64(key[len(badgerKeyPrefix):], idx)
	return key
}

// Append writes the next hash-chained event under its index key.
func (j *BadgerJournal) Append(ctx context.Context, kind string, payload any) (*Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ev := nextEvent(j.last, kind, raw)
	val, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("journal: marshal event: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(ev.Idx), val)
	})
	if err != nil {
		return nil, fmt.Errorf("journal: badger append: %w", err)
	}
	j.last = ev
	return ev, nil
}

// Latest returns the chain head, or nil when the store is empty.
func (j *BadgerJournal) Latest(ctx context.Context) (*Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, nil
}

// Replay iterates events in index order.
func (j *BadgerJournal) Replay(ctx context.Context, fn func(*Event) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(badgerKeyPrefix); it.ValidForPrefix(badgerKeyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var ev Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				return fn(&ev)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
