// Package graphmem implements the graph-memory entity/relation store
// (spec.md §3 "Entities / Relations", §4.2 "Graph context"). No teacher
// file implements this; built fresh per the spec's formulas, following the
// confidence/decay idea described in SPEC_FULL.md §C.2
// (machina_graph.py's Entity.Confidence()).
package graphmem

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/machina/internal/storage"
)

type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityEmail   EntityType = "email"
	EntityDate    EntityType = "date"
	EntityURL     EntityType = "url"
	EntityIP      EntityType = "ip"
	EntityPath    EntityType = "path"
	EntityMeasure EntityType = "measure"
	EntityTech    EntityType = "tech"
	EntityConcept EntityType = "concept"
)

// Entity is a graph-memory node (spec.md §3).
type Entity struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         EntityType     `json:"type"`
	Aliases      []string       `json:"aliases,omitempty"`
	FirstSeenMs  int64          `json:"first_seen_ms"`
	LastSeenMs   int64          `json:"last_seen_ms"`
	MentionCount int            `json:"mention_count"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Confidence derives a [0,1] trust value from mention_count, following
// machina_graph.py's entity confidence tagging (SPEC_FULL.md §C.2):
// confidence asymptotes toward 1 as mentions accumulate, never reaching it.
func (e *Entity) Confidence() float64 {
	return 1 - math.Pow(0.5, float64(e.MentionCount)/3.0)
}

// Relation is a graph-memory edge (spec.md §3).
type Relation struct {
	ID          string  `json:"id"`
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Predicate   string  `json:"predicate"`
	Weight      float64 `json:"weight"`
	FirstSeenMs int64   `json:"first_seen_ms"`
	LastSeenMs  int64   `json:"last_seen_ms"`
	MentionCount int    `json:"mention_count"`
}

func entityID(name string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(name)))
	return hex.EncodeToString(sum[:])[:16]
}

func relationID(srcID, tgtID, predicate string) string {
	sum := sha256.Sum256([]byte(srcID + tgtID + predicate))
	return hex.EncodeToString(sum[:])[:16]
}

// Store holds the in-memory entity/relation graph with bidirectional
// adjacency, backed by the storage streams "entities"/"relations".
type Store struct {
	mu sync.RWMutex

	entities  map[string]*Entity
	relations map[string]*Relation
	adjacency map[string][]string // entity id -> relation ids touching it

	backing *storage.Store
}

func New(backing *storage.Store) *Store {
	return &Store{
		entities:  make(map[string]*Entity),
		relations: make(map[string]*Relation),
		adjacency: make(map[string][]string),
		backing:   backing,
	}
}

// Load replays the entities/relations streams into memory and rebuilds
// adjacency (spec.md §3 "Bidirectional adjacency is derived on load").
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entRecords, err := s.backing.Read("entities", 0)
	if err != nil {
		return err
	}
	for _, rec := range entRecords {
		e := entityFromRecord(rec)
		s.entities[e.ID] = e
	}

	relRecords, err := s.backing.Read("relations", 0)
	if err != nil {
		return err
	}
	for _, rec := range relRecords {
		r := relationFromRecord(rec)
		s.relations[r.ID] = r
		s.adjacency[r.SourceID] = append(s.adjacency[r.SourceID], r.ID)
		s.adjacency[r.TargetID] = append(s.adjacency[r.TargetID], r.ID)
	}
	return nil
}

// UpsertEntity strengthens an existing entity (increment mention_count,
// refresh last_seen_ms) or creates a new one, then appends the updated
// record to the backing stream (spec.md §3 "Updates strengthen existing
// records ... rather than duplicate").
func (s *Store) UpsertEntity(name string, etype EntityType, nowMs int64) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := entityID(name)
	e, ok := s.entities[id]
	if !ok {
		e = &Entity{ID: id, Name: name, Type: etype, FirstSeenMs: nowMs}
		s.entities[id] = e
	}
	e.LastSeenMs = nowMs
	e.MentionCount++

	return e, s.backing.Append("entities", entityToRecord(e))
}

// UpsertRelation strengthens an existing relation or creates a new one,
// asymptoting weight toward 1 (spec.md §3).
func (s *Store) UpsertRelation(sourceID, targetID, predicate string, nowMs int64) (*Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := relationID(sourceID, targetID, predicate)
	r, ok := s.relations[id]
	if !ok {
		r = &Relation{ID: id, SourceID: sourceID, TargetID: targetID, Predicate: predicate, Weight: 0.3, FirstSeenMs: nowMs}
		s.relations[id] = r
		s.adjacency[sourceID] = append(s.adjacency[sourceID], id)
		s.adjacency[targetID] = append(s.adjacency[targetID], id)
	}
	r.LastSeenMs = nowMs
	r.MentionCount++
	r.Weight = r.Weight + (1-r.Weight)*0.25 // asymptote toward 1

	return r, s.backing.Append("relations", relationToRecord(r))
}

// FindByName resolves an entity by case-insensitive name match; aliases
// are not searched.
func (s *Store) FindByName(name string) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := entityID(name)
	e, ok := s.entities[id]
	return e, ok
}

func entityToRecord(e *Entity) storage.Record {
	return storage.Record{
		"id": e.ID, "name": e.Name, "type": string(e.Type), "aliases": e.Aliases,
		"first_seen_ms": e.FirstSeenMs, "last_seen_ms": e.LastSeenMs,
		"mention_count": e.MentionCount, "metadata": e.Metadata,
		"ts_ms": e.LastSeenMs,
	}
}

func entityFromRecord(rec storage.Record) *Entity {
	e := &Entity{}
	if v, ok := rec["id"].(string); ok {
		e.ID = v
	}
	if v, ok := rec["name"].(string); ok {
		e.Name = v
	}
	if v, ok := rec["type"].(string); ok {
		e.Type = EntityType(v)
	}
	if v, ok := rec["first_seen_ms"].(float64); ok {
		e.FirstSeenMs = int64(v)
	}
	if v, ok := rec["last_seen_ms"].(float64); ok {
		e.LastSeenMs = int64(v)
	}
	if v, ok := rec["mention_count"].(float64); ok {
		e.MentionCount = int(v)
	}
	return e
}

func relationToRecord(r *Relation) storage.Record {
	return storage.Record{
		"id": r.ID, "source_id": r.SourceID, "target_id": r.TargetID,
		"predicate": r.Predicate, "weight": r.Weight,
		"first_seen_ms": r.FirstSeenMs, "last_seen_ms": r.LastSeenMs,
		"mention_count": r.MentionCount, "ts_ms": r.LastSeenMs,
	}
}

func relationFromRecord(rec storage.Record) *Relation {
	r := &Relation{}
	if v, ok := rec["id"].(string); ok {
		r.ID = v
	}
	if v, ok := rec["source_id"].(string); ok {
		r.SourceID = v
	}
	if v, ok := rec["target_id"].(string); ok {
		r.TargetID = v
	}
	if v, ok := rec["predicate"].(string); ok {
		r.Predicate = v
	}
	if v, ok := rec["weight"].(float64); ok {
		r.Weight = v
	}
	if v, ok := rec["first_seen_ms"].(float64); ok {
		r.FirstSeenMs = int64(v)
	}
	if v, ok := rec["last_seen_ms"].(float64); ok {
		r.LastSeenMs = int64(v)
	}
	if v, ok := rec["mention_count"].(float64); ok {
		r.MentionCount = int(v)
	}
	return r
}
