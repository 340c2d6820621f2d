package tools

import (
	"context"
	"fmt"
	"strings"
)

// MemoryStore is the narrow slice of Storage+Retrieval that the memory
// built-in handlers delegate to (spec.md §4.4 "memory append/query
// (delegates to Storage+Retrieval)").
type MemoryStore interface {
	Append(ctx context.Context, stream string, record map[string]any) error
	Query(ctx context.Context, stream, query string, limit int) ([]string, error)
}

// MemoryAppendRequest is the input schema for MEMORY.APPEND.v1.
type MemoryAppendRequest struct {
	Stream string         `json:"stream" jsonschema:"required"`
	Record map[string]any `json:"record" jsonschema:"required"`
}

type MemoryAppendHandler struct {
	Store MemoryStore
}

func (MemoryAppendHandler) ActionID() string { return "MEMORY.APPEND.v1" }
func (MemoryAppendHandler) Request() any     { return &MemoryAppendRequest{} }

func (h MemoryAppendHandler) Execute(ctx context.Context, args map[string]any) *Result {
	stream := argString(args, "stream")
	if stream == "" {
		return ErrorResult("MEMORY.APPEND.v1", ErrInvalidInput, "stream is required")
	}
	record, ok := args["record"].(map[string]any)
	if !ok || len(record) == 0 {
		return ErrorResult("MEMORY.APPEND.v1", ErrInvalidInput, "record must be a non-empty object")
	}
	if h.Store == nil {
		return ErrorResult("MEMORY.APPEND.v1", ErrToolError(nil), "memory store unavailable")
	}
	if err := h.Store.Append(ctx, stream, record); err != nil {
		return ErrorResult("MEMORY.APPEND.v1", ErrIO, err.Error())
	}
	return NewResult(fmt.Sprintf("appended 1 record to %s", stream))
}

// MemoryQueryRequest is the input schema for MEMORY.QUERY.v1.
type MemoryQueryRequest struct {
	Stream string `json:"stream" jsonschema:"required"`
	Query  string `json:"query" jsonschema:"required"`
	Limit  int    `json:"limit,omitempty"`
}

type MemoryQueryHandler struct {
	Store MemoryStore
}

func (MemoryQueryHandler) ActionID() string { return "MEMORY.QUERY.v1" }
func (MemoryQueryHandler) Request() any     { return &MemoryQueryRequest{} }

func (h MemoryQueryHandler) Execute(ctx context.Context, args map[string]any) *Result {
	stream := argString(args, "stream")
	query := argString(args, "query")
	if stream == "" || query == "" {
		return ErrorResult("MEMORY.QUERY.v1", ErrInvalidInput, "stream and query are required")
	}
	limit := argInt(args, "limit", 10)
	if h.Store == nil {
		return ErrorResult("MEMORY.QUERY.v1", ErrToolError(nil), "memory store unavailable")
	}
	hits, err := h.Store.Query(ctx, stream, query, limit)
	if err != nil {
		return ErrorResult("MEMORY.QUERY.v1", ErrIO, err.Error())
	}
	if len(hits) == 0 {
		return NewResult("no matching records")
	}
	return NewResult(strings.Join(hits, "\n---\n"))
}
