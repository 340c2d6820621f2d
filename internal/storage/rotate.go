package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const maxArchiveBytes = 2 << 30 // 2 GiB per archive, per spec.md §6 log-size caps

// Rotate moves all but the newest maxRecords records of a stream into its
// archive stream (spec.md §4.1 "rotate moves evicted records to an archive
// stream of the same base name"). When archive=true the evicted records
// are appended to the plain-text archive file named by spec.md §6
// ("work/memory/<stream>.archive.jsonl") before truncation, so an
// out-of-process reader can tail the archive with no format this repo
// doesn't document.
func (s *Store) Rotate(stream string, maxRecords int, archive bool) error {
	lock := s.lockFor(stream)
	lock.Lock()
	defer lock.Unlock()

	path := s.streamPath(stream)
	records, err := s.readLocked(path)
	if err != nil {
		return err
	}
	if len(records) <= maxRecords {
		return nil
	}

	evicted := records[:len(records)-maxRecords]
	kept := records[len(records)-maxRecords:]

	if archive {
		if err := s.appendArchive(stream, evicted); err != nil {
			return err
		}
	}

	return s.writeAtomic(path, kept)
}

func (s *Store) readLocked(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("io_error: %w", err)
	}
	defer f.Close()

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
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) writeAtomic(path string, records []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "rotate-*.tmp")
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
	for _, rec := range records {
		line, err := json.Marshal(rec)
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

// appendArchive appends evicted records to the plain-jsonl archive file
// named exactly as spec.md §6 documents it, truncating the oldest entries
// first if the archive would exceed maxArchiveBytes (spec.md "archives are
// themselves size-bounded with oldest-first truncation").
func (s *Store) appendArchive(stream string, evicted []Record) error {
	path := s.archivePath(stream)
	existing, err := s.readLocked(path)
	if err != nil {
		return err
	}
	combined := append(existing, evicted...)

	for estimateSize(combined) > maxArchiveBytes && len(combined) > 0 {
		combined = combined[1:]
	}

	return s.writeAtomic(path, combined)
}

func estimateSize(records []Record) int64 {
	var total int64
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		total += int64(len(line)) + 1
	}
	return total
}
