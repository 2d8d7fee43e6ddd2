package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// JSONLLog is an append-only, line-delimited JSON log: one UTF-8 JSON
// object per line, LF-separated, no trailing comma. It backs
// messages.jsonl, queue.jsonl, comms.jsonl, timeline.jsonl, and
// schedule_history.jsonl.
type JSONLLog struct {
	storage *Storage
	path    []string
}

// Log returns a JSONLLog rooted at path (relative to the storage base),
// with ".jsonl" appended the way JSON snapshots get ".json" appended.
func (s *Storage) Log(path []string) *JSONLLog {
	return &JSONLLog{storage: s, path: path}
}

func (l *JSONLLog) filePath() string {
	parts := append([]string{l.storage.basePath}, l.path...)
	return filepath.Join(parts...) + ".jsonl"
}

// Append writes one record as a single JSON line, creating the file and
// its parent directory if necessary, under the same per-path lock the
// JSON snapshot store uses.
func (l *JSONLLog) Append(ctx context.Context, record any) error {
	filePath := l.filePath()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := l.storage.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	return nil
}

// Replay reads every line in order, unmarshaling into a fresh value via
// newFn and handing it to fn. Malformed lines are skipped with a logged
// warning rather than aborting the replay, per the on-disk format's
// forward-compatible deserialization policy.
func (l *JSONLLog) Replay(ctx context.Context, newFn func() any, fn func(record any) error) error {
	filePath := l.filePath()

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		record := newFn()
		if err := json.Unmarshal(raw, record); err != nil {
			log.Warn().Err(err).Str("path", filePath).Int("line", line).Msg("skipping malformed log line")
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	return nil
}

// Truncate empties the log file, used by session reset before a fresh
// conversation begins.
func (l *JSONLLog) Truncate(ctx context.Context) error {
	filePath := l.filePath()

	lock := l.storage.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filePath, nil, 0644); err != nil {
		return fmt.Errorf("failed to truncate log: %w", err)
	}
	return nil
}

// Remove deletes the log file entirely (used during archival moves,
// where the underlying file is renamed rather than removed, but also by
// channel deletion).
func (l *JSONLLog) Remove(ctx context.Context) error {
	filePath := l.filePath()
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove log: %w", err)
	}
	return nil
}
