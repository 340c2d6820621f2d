package tools

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// actionIDPattern enforces the DOMAIN.ACTION.vN shape (spec.md §4.4):
// uppercase alphanumeric-plus-underscore segments, versioned.
var actionIDPattern = regexp.MustCompile(`^[A-Z0-9_]+\.[A-Z0-9_]+\.v[0-9]+$`)

// Handler is a single built-in action identifier's implementation.
type Handler interface {
	ActionID() string
	// Request returns a zero-value pointer used only for jsonschema
	// generation; the actual args still arrive as map[string]any.
	Request() any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry resolves aliases to canonical action identifiers and holds the
// built-in handler table, mirroring the teacher's policy.go tool-group /
// alias resolution shape (internal/tools/policy.go resolveAlias).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ActionID()] = h
}

// RegisterAlias maps a legacy or shorthand name onto a canonical action
// identifier (spec.md §4.4: "legacy aliases are rewritten through a
// normalization map").
func (r *Registry) RegisterAlias(alias, actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = actionID
}

// ResolveAlias rewrites a shorthand tool name to its canonical action
// identifier, or returns the input unchanged if no alias is registered.
func (r *Registry) ResolveAlias(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

// ValidateActionID checks only the DOMAIN.ACTION.vN shape. Handler
// existence is deliberately not checked here: Dispatch.Execute needs to
// distinguish "malformed identifier" (always invalid_input) from "no
// built-in handler" (routable to the tool-host fallback, per spec.md §4.4).
func (r *Registry) ValidateActionID(id string) (bool, string) {
	if !actionIDPattern.MatchString(id) {
		return false, "action identifier must match DOMAIN.ACTION.vN"
	}
	return true, ""
}

// Unregister removes a handler; internal/mcpbridge calls it when an MCP
// server's tools are withdrawn.
func (r *Registry) Unregister(actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, actionID)
}

func (r *Registry) Get(actionID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionID]
	return h, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}

// Schema returns the JSON input schema for a registered action identifier,
// generated from its Go request struct (spec.md §6 toolpacks/tier0/manifest.json
// "input schemas").
func (r *Registry) Schema(actionID string) (*jsonschema.Schema, bool) {
	h, ok := r.Get(actionID)
	if !ok {
		return nil, false
	}
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	return reflector.Reflect(h.Request()), true
}
