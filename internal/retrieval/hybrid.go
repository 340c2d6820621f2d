package retrieval

import "math"

const mmrLambda = 0.72

// VectorBackend is the optional embedding-cosine index backing hybrid mode
// (spec.md §4.2 "when a vector backend is available"). internal/retrieval's
// sqlite-backed SQLiteVectorIndex (see sqlite.go) implements this.
type VectorBackend interface {
	CosineScores(query string, candidateIDs []string) (map[string]float64, error)
	Embedding(recordID string) ([]float64, bool)
}

// HybridSearch combines BM25 with embedding-cosine via MMR re-ranking over
// an oversampled pool (spec.md §4.2 "Hybrid mode"), falling back to plain
// BM25 when no vector backend is configured.
func HybridSearch(docs []Doc, query string, topK int, sessionID, topic string, vec VectorBackend) []Hit {
	oversample := topK * 4
	if oversample < 20 {
		oversample = 20
	}
	pool := BM25Search(docs, query, oversample, sessionID, topic)
	if vec == nil || len(pool) == 0 {
		if len(pool) > topK {
			pool = pool[:topK]
		}
		return pool
	}

	ids := make([]string, 0, len(pool))
	byID := make(map[string]Hit, len(pool))
	for _, h := range pool {
		id, _ := h.Record["id"].(string)
		if id == "" {
			id, _ = h.Record["code_hash"].(string)
		}
		if id == "" {
			continue
		}
		ids = append(ids, id)
		byID[id] = h
	}

	cosine, err := vec.CosineScores(query, ids)
	if err != nil || len(cosine) == 0 {
		if len(pool) > topK {
			pool = pool[:topK]
		}
		return pool
	}

	return mmrRerank(pool, byID, cosine, topK, vec)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// mmrRerank greedily selects the next highest marginal-relevance item:
// λ·combined_relevance - (1-λ)·max_similarity_to_already_selected
// (spec.md §4.2 "MMR re-ranking (λ=0.72)"). Item-to-item similarity uses
// the vector backend's stored embeddings when available, falling back to
// the query-cosine product as a cheap proxy otherwise.
func mmrRerank(pool []Hit, byID map[string]Hit, cosine map[string]float64, topK int, vec VectorBackend) []Hit {
	type candidate struct {
		id    string
		hit   Hit
		combo float64
	}
	candidates := make([]candidate, 0, len(pool))
	maxBM25 := 0.0
	for _, h := range pool {
		if h.Score > maxBM25 {
			maxBM25 = h.Score
		}
	}
	if maxBM25 == 0 {
		maxBM25 = 1
	}
	for id, h := range byID {
		normBM25 := h.Score / maxBM25
		combo := 0.5*normBM25 + 0.5*cosine[id]
		candidates = append(candidates, candidate{id: id, hit: h, combo: combo})
	}

	itemSimilarity := func(a, b string) float64 {
		if ea, ok := vec.Embedding(a); ok {
			if eb, ok := vec.Embedding(b); ok {
				return cosineSimilarity(ea, eb)
			}
		}
		return cosine[a] * cosine[b]
	}

	var selected []Hit
	selectedIDs := make([]string, 0, topK)
	for len(selected) < topK && len(candidates) > 0 {
		bestIdx := -1
		bestScore := -1.0
		for i, c := range candidates {
			maxSim := 0.0
			for _, sid := range selectedIDs {
				if sim := itemSimilarity(sid, c.id); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := mmrLambda*c.combo - (1-mmrLambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		chosen := candidates[bestIdx]
		selected = append(selected, chosen.hit)
		selectedIDs = append(selectedIDs, chosen.id)
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}
	return selected
}
