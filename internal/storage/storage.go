// Package storage implements the Learning Substrate's append-only JSONL
// streams (spec.md §4.1): exclusive-lock append, shared-lock read,
// crash-safe compaction, and rotation with archival.
//
// Grounded on internal/sessions/manager.go's atomic-save pattern (snapshot
// under a mutex, write to a temp file, fsync, rename) generalized from a
// single in-memory session snapshot to a generic multi-writer stream file.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/sys/unix"
)

// Record is one line of a JSONL stream: an arbitrary JSON object that must
// at minimum carry ts_ms (spec.md §3 invariant 1).
type Record = map[string]any

// Store manages every stream under a single work/memory root.
type Store struct {
	root string

	mu      sync.Mutex // unused; per-stream serialization uses locks below
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(root string) *Store {
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) streamPath(stream string) string {
	return filepath.Join(s.root, "memory", stream+".jsonl")
}

func (s *Store) archivePath(stream string) string {
	return filepath.Join(s.root, "memory", stream+".archive.jsonl")
}

func (s *Store) lockFor(stream string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[stream]
	if !ok {
		l = &sync.Mutex{}
		s.locks[stream] = l
	}
	return l
}

// Append writes one record to the stream under an exclusive file lock
// (spec.md §3 invariant 4). It is atomic: the full line is written or not
// at all.
func (s *Store) Append(stream string, record Record) error {
	if _, ok := record["ts_ms"]; !ok {
		record["ts_ms"] = time.Now().UnixMilli()
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	lock := s.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	path := s.streamPath(stream)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("io_error: flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	return f.Sync()
}

// Read returns up to maxRecords most-recent records in append order,
// skipping malformed lines (spec.md §4.1 "read returns records in append
// order, skipping malformed lines"). maxRecords<=0 means unbounded.
func (s *Store) Read(stream string, maxRecords int) ([]Record, error) {
	lock := s.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	path := s.streamPath(stream)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("io_error: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("io_error: flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed line: logged by the caller, skipped here
		}
		records = append(records, rec)
	}
	if maxRecords > 0 && len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}
	return records, nil
}

// TailBytes returns the last n bytes of the stream file, re-aligned to the
// start of the first complete line, using jsonparser for a fast
// malformed-line-skipping scan rather than a full unmarshal
// (spec.md §4.1 tail_bytes).
func (s *Store) TailBytes(stream string, n int64) (string, error) {
	lock := s.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	path := s.streamPath(stream)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("io_error: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("io_error: %w", err)
	}
	size := info.Size()
	start := int64(0)
	if size > n {
		start = size - n
	}
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return "", fmt.Errorf("io_error: %w", err)
	}

	// re-align to the first full line, then keep only lines that parse as a
	// JSON object carrying ts_ms — jsonparser.GetInt gives the fast
	// malformed-line-skip path without a full unmarshal per line.
	if idx := indexByte(buf, '\n'); idx >= 0 && start > 0 {
		buf = buf[idx+1:]
	}
	var out []byte
	for _, line := range splitLines(buf) {
		if len(line) == 0 {
			continue
		}
		if _, err := jsonparser.GetInt(line, "ts_ms"); err != nil {
			continue // malformed or missing ts_ms: skip, per spec.md §4.1
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return string(out), nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, b[start:i])
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return lines
}
