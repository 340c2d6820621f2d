package storage

import (
	"os"
	"testing"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.Append("experiences", Record{"event": "a", "ts_ms": int64(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("experiences", Record{"event": "b", "ts_ms": int64(2)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := s.Read("experiences", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["event"] != "a" || records[1]["event"] != "b" {
		t.Fatalf("unexpected order: %+v", records)
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Append("skills", Record{"name": "ok", "ts_ms": int64(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := s.streamPath("skills")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("not json\n")
	f.Close()

	records, err := s.Read("skills", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected malformed line skipped, got %d records", len(records))
	}
}

func TestCompactKeepsMostRecentPerKey(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	s.Append("entities", Record{"id": "e1", "ts_ms": int64(1), "mention_count": float64(1)})
	s.Append("entities", Record{"id": "e1", "ts_ms": int64(2), "mention_count": float64(2)})
	s.Append("entities", Record{"id": "e2", "ts_ms": int64(1), "mention_count": float64(1)})

	err := s.Compact("entities", func(r Record) string { return r["id"].(string) }, nil)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}

	records, err := s.Read("entities", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after compaction, got %d", len(records))
	}
	for _, r := range records {
		if r["id"] == "e1" && r["mention_count"] != float64(2) {
			t.Fatalf("expected most recent e1 to survive, got %+v", r)
		}
	}
}

func TestRotateArchivesEvicted(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	for i := 0; i < 5; i++ {
		s.Append("experiences", Record{"ts_ms": int64(i), "n": float64(i)})
	}
	if err := s.Rotate("experiences", 2, true); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	records, err := s.Read("experiences", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 remaining records, got %d", len(records))
	}
}

func TestTrustScoreFailureLowersQuality(t *testing.T) {
	now := int64(1_000_000)
	success := Trust(Record{"ts_ms": float64(now), "success": true}, now)
	failure := Trust(Record{"ts_ms": float64(now), "success": false}, now)
	if failure >= success {
		t.Fatalf("expected failure trust %v < success trust %v", failure, success)
	}
}
