package tools

import (
	"context"
	"fmt"
)

// GraphStore is the narrow slice of graph memory that GRAPH.INGEST.v1
// delegates to (spec.md §4.4 "graph ingest (also delegates)").
type GraphStore interface {
	Ingest(ctx context.Context, entities []string, relations [][3]string) error
}

// GraphIngestRequest is the input schema for GRAPH.INGEST.v1.
type GraphIngestRequest struct {
	Entities  []string   `json:"entities,omitempty"`
	Relations [][3]string `json:"relations,omitempty" jsonschema:"description=[subject,predicate,object] triples"`
}

type GraphIngestHandler struct {
	Store GraphStore
}

func (GraphIngestHandler) ActionID() string { return "GRAPH.INGEST.v1" }
func (GraphIngestHandler) Request() any     { return &GraphIngestRequest{} }

func (h GraphIngestHandler) Execute(ctx context.Context, args map[string]any) *Result {
	entities := toStringSlice(args["entities"])
	relations := toTripleSlice(args["relations"])
	if len(entities) == 0 && len(relations) == 0 {
		return ErrorResult("GRAPH.INGEST.v1", ErrInvalidInput, "entities or relations required")
	}
	if h.Store == nil {
		return ErrorResult("GRAPH.INGEST.v1", ErrToolError(nil), "graph store unavailable")
	}
	if err := h.Store.Ingest(ctx, entities, relations); err != nil {
		return ErrorResult("GRAPH.INGEST.v1", ErrIO, err.Error())
	}
	return NewResult(fmt.Sprintf("ingested %d entities, %d relations", len(entities), len(relations)))
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toTripleSlice(v any) [][3]string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][3]string, 0, len(raw))
	for _, item := range raw {
		triple, ok := item.([]any)
		if !ok || len(triple) != 3 {
			continue
		}
		s, p, o := fmt.Sprint(triple[0]), fmt.Sprint(triple[1]), fmt.Sprint(triple[2])
		out = append(out, [3]string{s, p, o})
	}
	return out
}
