// Package audit implements the append-only, hash-chained JSONL log of every
// workspace state transition. Each line's prevHash is the SHA-256 of the
// previous line, so offline tampering is detectable. The log is
// observational: the store never reads it to recover authority.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkdir700/pi-team/internal/model"
)

// GenesisHash is the prevHash of the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one line of audit/events.jsonl.
type Entry struct {
	SchemaVersion int            `json:"schemaVersion"`
	TS            string         `json:"ts"`
	Actor         string         `json:"actor"`
	Type          string         `json:"type"`
	TaskID        string         `json:"taskId,omitempty"`
	ThreadID      string         `json:"threadId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	PrevHash      string         `json:"prevHash"`
}

// Log appends entries to a single JSONL file under a mutex, fsyncing each
// line before it is considered recorded.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens or creates the log for appending. An existing file is truncated
// to its last newline first (bytes past it are an uncommitted crash
// fragment), then the last committed line seeds the chain tail.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	prevHash := GenesisHash
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read existing audit log: %w", err)
	}
	if n := len(data); n > 0 && data[n-1] != '\n' {
		committed := 0
		if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
			committed = i + 1
		}
		if err := os.Truncate(path, int64(committed)); err != nil {
			return nil, fmt.Errorf("failed to drop audit fragment: %w", err)
		}
		data = data[:committed]
	}
	if len(data) > 0 {
		body := data[:len(data)-1]
		last := body
		if i := bytes.LastIndexByte(body, '\n'); i >= 0 {
			last = body[i+1:]
		}
		if last = bytes.TrimSpace(last); len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// Record chains and appends one entry. TS and SchemaVersion are filled when
// unset. The write is fsynced before Record returns.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.TS == "" {
		entry.TS = model.Now()
	}
	if entry.SchemaVersion == 0 {
		entry.SchemaVersion = model.SchemaVersion
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of one serialized line.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
