package retrieval

import (
	"math"

	"github.com/nextlevelbuilder/machina/internal/storage"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Doc is one indexed document: a storage record plus its tokenized text
// field, keyed by its position in the stream for score attribution.
type Doc struct {
	Record storage.Record
	Tokens []string
}

// Hit is one scored search result.
type Hit struct {
	Record storage.Record
	Score  float64
}

// bm25Index holds precomputed per-term document frequencies and document
// lengths for the Okapi BM25 formula (spec.md §4.2 "k1=1.5, b=0.75").
type bm25Index struct {
	docs     []Doc
	df       map[string]int // term -> number of docs containing it
	avgDocLen float64
}

func buildBM25Index(docs []Doc) *bm25Index {
	idx := &bm25Index{docs: docs, df: make(map[string]int)}
	var totalLen int
	for _, d := range docs {
		totalLen += len(d.Tokens)
		seen := make(map[string]bool)
		for _, t := range d.Tokens {
			if !seen[t] {
				idx.df[t]++
				seen[t] = true
			}
		}
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}
	return idx
}

func (idx *bm25Index) idf(term string) float64 {
	n := float64(len(idx.docs))
	df := float64(idx.df[term])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func termFreq(tokens []string, term string) int {
	count := 0
	for _, t := range tokens {
		if t == term {
			count++
		}
	}
	return count
}

// score computes the Okapi BM25 score of one document against the query
// terms.
func (idx *bm25Index) score(doc Doc, queryTerms []string) float64 {
	var total float64
	docLen := float64(len(doc.Tokens))
	for _, term := range queryTerms {
		tf := float64(termFreq(doc.Tokens, term))
		if tf == 0 {
			continue
		}
		idf := idx.idf(term)
		denom := tf + bm25K1*(1-bm25B+bm25B*docLen/maxFloat(idx.avgDocLen, 1))
		total += idf * (tf * (bm25K1 + 1)) / denom
	}
	return total
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// BM25Search ranks docs against query, applying the importance + session
// boosts from spec.md §4.2 ("memory recall only"): score *= (1+0.2*importance),
// *1.5 if session_id matches, *1.3 if topic tag matches.
func BM25Search(docs []Doc, query string, topK int, sessionID, topic string) []Hit {
	idx := buildBM25Index(docs)
	queryTerms := Tokenize(query)

	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		s := idx.score(d, queryTerms)
		if s <= 0 {
			continue
		}
		if importance, ok := d.Record["importance"].(float64); ok {
			s *= 1 + 0.2*importance
		}
		if sessionID != "" {
			if sid, ok := d.Record["session_id"].(string); ok && sid == sessionID {
				s *= 1.5
			}
		}
		if topic != "" {
			if tag, ok := d.Record["topic"].(string); ok && tag == topic {
				s *= 1.3
			}
		}
		hits = append(hits, Hit{Record: d.Record, Score: s})
	}

	sortHitsDesc(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func sortHitsDesc(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
