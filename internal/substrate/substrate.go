// Package substrate wires Storage, Retrieval, and Graph Memory together
// into the "Learning Substrate" shared by the Autonomic Engine and the
// Pulse Executor (spec.md §1 item 3), and implements the narrow
// MemoryStore/GraphStore interfaces that internal/tools' MEMORY.*.v1 and
// GRAPH.INGEST.v1 handlers delegate to (spec.md §4.4).
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/graphmem"
	"github.com/nextlevelbuilder/machina/internal/retrieval"
	"github.com/nextlevelbuilder/machina/internal/storage"
)

// Substrate composes the three Learning Substrate components. Vector is
// optional; when nil, Query falls back to plain BM25 (retrieval.HybridSearch
// degrades gracefully without a backend).
type Substrate struct {
	Store  *storage.Store
	Graph  *graphmem.Store
	Vector retrieval.VectorBackend
}

func New(store *storage.Store, graph *graphmem.Store, vector retrieval.VectorBackend) *Substrate {
	return &Substrate{Store: store, Graph: graph, Vector: vector}
}

// Append implements tools.MemoryStore.
func (s *Substrate) Append(_ context.Context, stream string, record map[string]any) error {
	return s.Store.Append(stream, record)
}

// Read returns up to maxRecords of the named stream's raw records (0 = all),
// for consumers that need the tail directly rather than a ranked search —
// e.g. internal/learning's dedup/insight-window scans.
func (s *Substrate) Read(_ context.Context, stream string, maxRecords int) ([]storage.Record, error) {
	return s.Store.Read(stream, maxRecords)
}

// Query implements tools.MemoryStore: BM25 (or hybrid, when a vector
// backend is wired) search over the named stream (spec.md §4.2).
func (s *Substrate) Query(_ context.Context, stream, query string, limit int) ([]string, error) {
	records, err := s.Store.Read(stream, 0)
	if err != nil {
		return nil, err
	}

	docs := make([]retrieval.Doc, 0, len(records))
	for _, rec := range records {
		docs = append(docs, retrieval.Doc{Record: rec, Tokens: retrieval.Tokenize(recordText(rec))})
	}

	var hits []retrieval.Hit
	if s.Vector != nil {
		hits = retrieval.HybridSearch(docs, query, limit, "", "", s.Vector)
	} else {
		hits = retrieval.BM25Search(docs, query, limit, "", "")
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		b, err := json.Marshal(h.Record)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out, nil
}

// Ingest implements tools.GraphStore: upserts every entity, then the
// relation triples (source/predicate/target names resolved to entity ids
// along the way), strengthening existing records per spec.md §3.
func (s *Substrate) Ingest(_ context.Context, entities []string, relations [][3]string) error {
	now := time.Now().UnixMilli()

	for _, name := range entities {
		if _, err := s.Graph.UpsertEntity(name, graphmem.EntityConcept, now); err != nil {
			return fmt.Errorf("upsert entity %q: %w", name, err)
		}
	}

	for _, triple := range relations {
		src, err := s.Graph.UpsertEntity(triple[0], graphmem.EntityConcept, now)
		if err != nil {
			return fmt.Errorf("upsert relation source %q: %w", triple[0], err)
		}
		tgt, err := s.Graph.UpsertEntity(triple[2], graphmem.EntityConcept, now)
		if err != nil {
			return fmt.Errorf("upsert relation target %q: %w", triple[2], err)
		}
		if _, err := s.Graph.UpsertRelation(src.ID, tgt.ID, triple[1], now); err != nil {
			return fmt.Errorf("upsert relation %q: %w", triple[1], err)
		}
	}
	return nil
}

// recordText concatenates every string-valued field of a record into one
// searchable blob; records carry free-text fields under varying keys
// depending on stream type (spec.md §3 stream field lists), so this scans
// generically rather than hardcoding a field name per stream.
func recordText(rec storage.Record) string {
	var sb strings.Builder
	for _, v := range rec {
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
