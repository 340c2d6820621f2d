package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DedupKeyFn extracts a logical identity key from a record; Compact keeps
// only the most recent record per key (spec.md §3 invariant 5).
type DedupKeyFn func(Record) string

// KeepFn decides whether a record survives compaction at all (e.g. trust
// score above the hygiene eviction floor).
type KeepFn func(Record) bool

// Compact rewrites a stream to tmp, fsyncs, then atomically renames over
// the original, keeping only the most recent record per dedup key
// (spec.md §4.1 "compact is crash-safe (tmp+fsync+rename)").
func (s *Store) Compact(stream string, keyFn DedupKeyFn, keepFn KeepFn) error {
	lock := s.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	path := s.streamPath(stream)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("io_error: %w", err)
	}

	latest := make(map[string]Record)
	order := make([]string, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if keepFn != nil && !keepFn(rec) {
			continue
		}
		key := keyFn(rec)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = rec
	}
	f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "compact-*.tmp")
	if err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, key := range order {
		line, err := json.Marshal(latest[key])
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("io_error: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("io_error: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("io_error: %w", err)
	}
	success = true
	return nil
}
