package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileJournal is a JSONL-backed journal. Appends are serialized with a
// mutex and fsynced before returning, so the chain head survives a crash.
type FileJournal struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	last   *Event
	logger *zap.Logger
}

// NewFileJournal opens (or creates) the journal file and recovers the
// chain head by scanning existing entries.
func NewFileJournal(path string, logger *zap.Logger) (*FileJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j := &FileJournal{file: f, path: path, logger: logger}
	if err := j.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) recover() error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := json.NewDecoder(bufio.NewReader(j.file))
	var count int
	for {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("journal: recover %s: %w", j.path, err)
		}
		j.last = &ev
		count++
	}
	if count > 0 {
		j.logger.Info("journal recovered",
			zap.String("path", j.path),
			zap.Int("events", count),
			zap.Uint64("head_idx", j.last.Idx))
	}
	return nil
}

// Append writes a new hash-chained event and fsyncs it.
func (j *FileJournal) Append(ctx context.Context, kind string, payload any) (*Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	ev := nextEvent(j.last, kind, raw)
	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("journal: marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.file.Write(line); err != nil {
		return nil, fmt.Errorf("journal: write: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return nil, fmt.Errorf("journal: sync: %w", err)
	}
	j.last = ev
	return ev, nil
}

// Latest returns the chain head, or nil when the journal is empty.
func (j *FileJournal) Latest(ctx context.Context) (*Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, nil
}

// Replay streams every event in append order.
func (j *FileJournal) Replay(ctx context.Context, fn func(*Event) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("journal: replay: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
