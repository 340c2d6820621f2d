package graphmem

import (
	"math"
	"time"
)

const (
	beamWidth       = 10
	defaultHops     = 2
	minEdgeScore    = 0.1
	decayHalfLifeDs = 30.0 // days
	decayFloor      = 0.05
)

// ContextHit is one edge surfaced by graph context retrieval.
type ContextHit struct {
	Entity    *Entity
	Relation  *Relation
	Score     float64
	Hops      int
}

// timeDecay implements spec.md §4.2: max(floor=0.05, exp(-ln(2)/30 * days_ago)).
func timeDecay(lastSeenMs int64, nowMs int64) float64 {
	daysAgo := float64(nowMs-lastSeenMs) / float64(time.Hour.Milliseconds()*24)
	if daysAgo < 0 {
		daysAgo = 0
	}
	decay := math.Exp(-math.Ln2 / decayHalfLifeDs * daysAgo)
	if decay < decayFloor {
		return decayFloor
	}
	return decay
}

// GraphContext runs a multi-hop BFS from seed entities resolved by name
// lookup (spec.md §4.2 "Graph context"), beam width 10 per hop, default 2
// hops, discarding edges with score < 0.1.
func (s *Store) GraphContext(seedNames []string, hops int, nowMs int64) []ContextHit {
	if hops <= 0 {
		hops = defaultHops
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := make(map[string]bool)
	frontier := make([]string, 0, len(seedNames))
	for _, name := range seedNames {
		id := entityID(name)
		if _, ok := s.entities[id]; ok {
			frontier = append(frontier, id)
			visited[id] = true
		}
	}

	var hits []ContextHit
	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		type scored struct {
			relID string
			score float64
		}
		var candidates []scored
		for _, eid := range frontier {
			for _, relID := range s.adjacency[eid] {
				rel := s.relations[relID]
				if rel == nil {
					continue
				}
				score := rel.Weight * timeDecay(rel.LastSeenMs, nowMs)
				if score < minEdgeScore {
					continue
				}
				candidates = append(candidates, scored{relID, score})
			}
		}

		// keep the top beamWidth edges by score for this hop
		sortScoredDesc(candidates)
		if len(candidates) > beamWidth {
			candidates = candidates[:beamWidth]
		}

		var next []string
		for _, c := range candidates {
			rel := s.relations[c.relID]
			other := rel.TargetID
			if visited[other] {
				other = rel.SourceID
			}
			if visited[other] {
				continue
			}
			visited[other] = true
			next = append(next, other)
			hits = append(hits, ContextHit{
				Entity:   s.entities[other],
				Relation: rel,
				Score:    c.score,
				Hops:     hop,
			})
		}
		frontier = next
	}
	return hits
}

func sortScoredDesc(items []struct {
	relID string
	score float64
}) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].score > items[j-1].score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
