// Package mcpbridge adapts the Model Context Protocol client library into
// the Tool Dispatch surface (spec.md §4.4, §6 "MCP protocol client
// library" external collaborator): each remote MCP tool is exposed as a
// virtual action identifier and routed through the same tools.Registry
// used by built-in handlers. Grounded on the teacher's
// internal/mcp/manager*.go reconnect/health-check state machine,
// generalized from "register goclaw ToolDefinitions" to "register
// tools.Handler action identifiers", and from the managed-mode
// per-agent/per-user store lookup (out of scope — single process, single
// host, spec.md Non-goals) to a single static server-config map.
package mcpbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoffInterval   = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerConfig is one configured MCP server.
type ServerConfig struct {
	Name       string            `json:"name"`
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	Enabled    bool              `json:"enabled"`
}

// ServerStatus reports the connection status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	actionIDs  []string // registered action identifiers in the registry
	timeoutSec int
	cancel     context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
	bo             *backoff.ExponentialBackOff
}

// Manager orchestrates MCP server connections and virtual action
// identifier registration against a shared tools.Registry.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState

	registry *tools.Registry
	configs  map[string]ServerConfig
}

func NewManager(registry *tools.Registry, configs map[string]ServerConfig) *Manager {
	return &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
		configs:  configs,
	}
}

// Start connects to every enabled configured server. Non-fatal: logs
// warnings for servers that fail to connect and continues (spec.md §6 —
// external collaborators are invoked through a narrow interface and must
// not bring down the process on failure).
func (m *Manager) Start(ctx context.Context) error {
	var errs []string
	for name, cfg := range m.configs {
		if !cfg.Enabled {
			slog.Info("mcpbridge.server.disabled", "server", name)
			continue
		}
		if err := m.connectServer(ctx, cfg); err != nil {
			slog.Warn("mcpbridge.server.connect_failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", joinErrors(errs))
	}
	return nil
}

// Stop shuts down all MCP server connections and unregisters their
// action identifiers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcpbridge.server.close_error", "server", name, "error", err)
			}
		}
		for _, id := range ss.actionIDs {
			m.registry.Unregister(id)
		}
	}
	m.servers = make(map[string]*serverState)
}

// ServerStatuses returns the status of all connected MCP servers.
func (m *Manager) ServerStatuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.actionIDs),
			Error:     ss.lastErr,
		})
	}
	return statuses
}
