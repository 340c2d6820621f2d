package retrieval

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteVectorIndex is the optional embedding-cosine backend for hybrid
// search (SPEC_FULL.md §B: modernc.org/sqlite with the schema created
// inline, no golang-migrate). It stores one row per record id with the
// float64 embedding encoded as JSON-array text rather than a blob, to keep
// the dependency pure-Go/no-cgo,
// matching the teacher's own choice of modernc.org/sqlite for its stores.
type SQLiteVectorIndex struct {
	db *sql.DB
}

func OpenSQLiteVectorIndex(path string) (*SQLiteVectorIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		record_id TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		vector TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate vector index: %w", err)
	}
	return &SQLiteVectorIndex{db: db}, nil
}

func (v *SQLiteVectorIndex) Close() error { return v.db.Close() }

// Upsert stores or replaces the embedding for a record id.
func (v *SQLiteVectorIndex) Upsert(recordID string, embedding []float64) error {
	encoded := encodeVector(embedding)
	_, err := v.db.Exec(`INSERT INTO embeddings (record_id, dims, vector) VALUES (?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET dims=excluded.dims, vector=excluded.vector`,
		recordID, len(embedding), encoded)
	return err
}

// Embedding returns the stored embedding for a record id, if any.
func (v *SQLiteVectorIndex) Embedding(recordID string) ([]float64, bool) {
	row := v.db.QueryRow(`SELECT vector FROM embeddings WHERE record_id = ?`, recordID)
	var encoded string
	if err := row.Scan(&encoded); err != nil {
		return nil, false
	}
	return decodeVector(encoded), true
}

// CosineScores computes the cosine similarity between a query embedding
// (produced by the active query embedder) and every candidate's stored
// embedding. Because retrieval.VectorBackend.CosineScores takes a raw query
// string, the default embedder treats the query's own BM25-token bag as a
// crude embedding, so the hybrid path degrades gracefully without a real
// embedding model; SetQueryEmbedder replaces it.
type queryEmbedder func(query string) []float64

var activeQueryEmbedder queryEmbedder = func(query string) []float64 {
	// Deterministic bag-of-tokens projection: a real embedding client
	// replaces this via SetQueryEmbedder.
	tokens := Tokenize(query)
	vec := make([]float64, 64)
	for _, t := range tokens {
		vec[hashToBucket(t, len(vec))]++
	}
	return vec
}

// SetQueryEmbedder replaces the default bag-of-tokens query embedder; no
// package in this repository calls it.
func SetQueryEmbedder(fn func(query string) []float64) {
	activeQueryEmbedder = fn
}

func (v *SQLiteVectorIndex) CosineScores(query string, candidateIDs []string) (map[string]float64, error) {
	qvec := activeQueryEmbedder(query)
	out := make(map[string]float64, len(candidateIDs))
	for _, id := range candidateIDs {
		emb, ok := v.Embedding(id)
		if !ok {
			continue
		}
		out[id] = cosineSimilarity(qvec, emb)
	}
	return out, nil
}

func hashToBucket(s string, buckets int) int {
	h := 2166136261
	for _, c := range s {
		h = (h ^ int(c)) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h % buckets
}

func encodeVector(v []float64) string {
	out := "["
	for i, x := range v {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%.6f", x)
	}
	return out + "]"
}

func decodeVector(s string) []float64 {
	var out []float64
	var cur string
	flush := func() {
		if cur == "" {
			return
		}
		var f float64
		fmt.Sscanf(cur, "%f", &f)
		out = append(out, f)
		cur = ""
	}
	for _, c := range s {
		switch c {
		case '[', ']':
		case ',':
			flush()
		default:
			cur += string(c)
		}
	}
	flush()
	return out
}
