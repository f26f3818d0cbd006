package state

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"mmexec/internal/core"
	"mmexec/pkg/jsonutil"
)

const (
	JournalFileName  = "orders.jsonl"
	SnapshotFileName = "orders_snapshot.json"
)

// JournalWriter appends one canonical JSON line per mutation to
// orders.jsonl. Lines are flushed and synced before the mutation is
// acknowledged, so a crash never loses an acked write.
type JournalWriter struct {
	path string
	file *os.File
}

// NewJournalWriter opens (creating if needed) the journal under dir
func NewJournalWriter(dir string) (*JournalWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, JournalFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &JournalWriter{path: path, file: file}, nil
}

// Append writes one canonical JSON line for v
func (w *JournalWriter) Append(v interface{}) error {
	line, err := jsonutil.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("failed to serialize journal entry: %w", err)
	}
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return w.file.Sync()
}

// Close closes the underlying file
func (w *JournalWriter) Close() error {
	return w.file.Close()
}

// ReplayJournal reads the journal line by line, invoking fn with the raw
// JSON of each entry in write order. A missing journal is not an error.
func ReplayJournal(dir string, fn func(line []byte) error) (int, error) {
	path := filepath.Join(dir, JournalFileName)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return count, fmt.Errorf("journal replay failed at line %d: %w", count+1, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("journal read failed: %w", err)
	}
	return count, nil
}

// SnapshotWriter dumps a consolidated view of all orders. Writes are
// best-effort: failures are logged, never propagated.
type SnapshotWriter struct {
	dir    string
	logger core.ILogger
}

// NewSnapshotWriter creates a snapshot writer targeting dir
func NewSnapshotWriter(dir string, logger core.ILogger) *SnapshotWriter {
	return &SnapshotWriter{dir: dir, logger: logger.WithField("component", "snapshot_writer")}
}

// Write dumps {ts_ms, orders:{cid:{...}}} to orders_snapshot.json
func (w *SnapshotWriter) Write(tsMs int64, orders map[string]*core.Order) {
	payload := map[string]interface{}{
		"ts_ms":  tsMs,
		"orders": orders,
	}
	data, err := jsonutil.MarshalCanonical(payload)
	if err != nil {
		w.logger.Warn("Snapshot serialization failed", "error", err)
		return
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Warn("Snapshot dir creation failed", "error", err)
		return
	}

	// Write to a temp file then rename so readers never see a torn file
	path := filepath.Join(w.dir, SnapshotFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.logger.Warn("Snapshot write failed", "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		w.logger.Warn("Snapshot rename failed", "error", err)
	}
}
