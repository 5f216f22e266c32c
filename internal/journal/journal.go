// Package journal implements the WORM (write-once-read-many) event log.
// Every state transition in the trade operations core is appended here as
// a hash-chained event; an independent verifier can recompute the chain
// from genesis to detect tampering.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash seeds the chain for the first event.
const GenesisHash = "GENESIS"

// Event is a single entry in the append-only log. Hash covers the
// previous hash and the payload bytes; Idx is strictly increasing.
type Event struct {
	Idx       uint64          `json:"idx" gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time       `json:"timestamp" gorm:"not null;index"`
	Kind      string          `json:"kind" gorm:"type:varchar(64);not null;index"`
	Payload   json.RawMessage `json:"payload" gorm:"type:jsonb"`
	PrevHash  string          `json:"prev_hash" gorm:"type:varchar(64);not null"`
	Hash      string          `json:"hash" gorm:"type:varchar(64);not null;index"`
}

// TableName specifies the table name for the gorm backend.
func (Event) TableName() string {
	return "worm_events"
}

// Journal is the append/read contract shared by every engine. Appends are
// serialized by the implementation; there is no update or delete.
type Journal interface {
	Append(ctx context.Context, kind string, payload any) (*Event, error)
	Latest(ctx context.Context) (*Event, error)
	Replay(ctx context.Context, fn func(*Event) error) error
}

// ComputeHash derives the chain hash for an event from its predecessor's
// hash and the serialized payload.
func ComputeHash(prevHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("journal: marshal payload: %w", err)
	}
	return data, nil
}

// nextEvent builds the event that follows prev (nil for genesis).
func nextEvent(prev *Event, kind string, payload json.RawMessage) *Event {
	idx := uint64(1)
	prevHash := GenesisHash
	if prev != nil {
		idx = prev.Idx + 1
		prevHash = prev.Hash
	}
	return &Event{
		Idx:       idx,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
		PrevHash:  prevHash,
		Hash:      ComputeHash(prevHash, payload),
	}
}

// VerifyResult reports the outcome of a chain verification run.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Checked   int    `json:"checked"`
	BrokenIdx uint64 `json:"broken_idx,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// VerifyChain recomputes every hash from genesis. A single inconsistent
// entry invalidates the chain from that index forward.
func VerifyChain(events []*Event) VerifyResult {
	prevHash := GenesisHash
	var prevIdx uint64
	for i, ev := range events {
		if ev.Idx <= prevIdx {
			return VerifyResult{Checked: i, BrokenIdx: ev.Idx, Reason: "index not strictly increasing"}
		}
		if ev.PrevHash != prevHash {
			return VerifyResult{Checked: i, BrokenIdx: ev.Idx, Reason: "previous hash mismatch"}
		}
		if ComputeHash(ev.PrevHash, ev.Payload) != ev.Hash {
			return VerifyResult{Checked: i, BrokenIdx: ev.Idx, Reason: "hash mismatch"}
		}
		prevHash = ev.Hash
		prevIdx = ev.Idx
	}
	return VerifyResult{Valid: true, Checked: len(events)}
}

// Verify replays a journal and checks its chain end to end.
func Verify(ctx context.Context, j Journal) (VerifyResult, error) {
	var events []*Event
	if err := j.Replay(ctx, func(ev *Event) error {
		events = append(events, ev)
		return nil
	}); err != nil {
		return VerifyResult{}, err
	}
	return VerifyChain(events), nil
}
