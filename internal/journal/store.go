package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// GormJournal persists the chain in a relational table. The process-local
// mutex plus a transactional head read keep the index monotonic for the
// single-writer contract.
type GormJournal struct {
	mu sync.Mutex
	db *gorm.DB
}

// NewGormJournal migrates the worm_events table and returns a journal
// bound to the given database.
func NewGormJournal(db *gorm.DB) (*GormJournal, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &GormJournal{db: db}, nil
}

// Append inserts the next hash-chained event inside one transaction.
func (j *GormJournal) Append(ctx context.Context, kind string, payload any) (*Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var ev *Event
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev Event
		res := tx.Order("idx DESC").Limit(1).Find(&prev)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			ev = nextEvent(nil, kind, raw)
		} else {
			ev = nextEvent(&prev, kind, raw)
		}
		return tx.Create(ev).Error
	})
	if err != nil {
		return nil, fmt.Errorf("journal: append: %w", err)
	}
	return ev, nil
}

// Latest returns the chain head, or nil when the table is empty.
func (j *GormJournal) Latest(ctx context.Context) (*Event, error) {
	var ev Event
	err := j.db.WithContext(ctx).Order("idx DESC").First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: latest: %w", err)
	}
	return &ev, nil
}

// Replay streams events in index order in fixed-size batches.
func (j *GormJournal) Replay(ctx context.Context, fn func(*Event) error) error {
	const batch = 500
	var lastIdx uint64
	for {
		var events []*Event
		err := j.db.WithContext(ctx).
			Where("idx > ?", lastIdx).
			Order("idx ASC").
			Limit(batch).
			Find(&events).Error
		if err != nil {
			return fmt.Errorf("journal: replay: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
			lastIdx = ev.Idx
		}
	}
}
