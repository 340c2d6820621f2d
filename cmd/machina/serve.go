package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
	"github.com/nextlevelbuilder/machina/internal/pulse"
)

// opsPollInterval is how often opsbus.Bus.Run drains the engine's alert
// queue (spec.md §4.9's alert-delivery path runs outside the tick thread).
const opsPollInterval = 2 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the autonomic engine and the operator HTTP/WS surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe wires the full collaborator graph and blocks until SIGINT/SIGTERM,
// mirroring the teacher's cmd/gateway.go "build -> serve -> wait for signal
// -> graceful shutdown" shape.
func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := wireRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wire runtime: %w", err)
	}

	go rt.engine.RunForever(ctx)
	go rt.bus.Run(ctx, rt.engine.Alerts(), opsPollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", rt.handleHealth)
	mux.Handle("/ws", rt.bus)
	mux.Handle("/v1/status", rt.authorized(rt.handleStatus))
	mux.Handle("/v1/stop", rt.authorized(rt.handleStop))
	mux.Handle("/v1/tools", rt.authorized(rt.handleTools))
	mux.Handle("/v1/dev-mode", rt.authorized(rt.handleDevMode))
	mux.Handle("/v1/gc", rt.authorized(rt.handleGC))
	mux.Handle("/v1/chat", rt.authorized(rt.handleChat))

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	slog.Info("machina.serve.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		if rt.shutdown != nil {
			rt.shutdown(shutdownCtx)
		}
		rt.engine.Stop()
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// authorized wraps h with the bearer-token check the teacher's internal/http
// handlers apply (extractBearerToken compared against cfg.Gateway.Token); an
// empty configured token disables auth for local/dev use.
func (rt *runtime) authorized(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.Gateway.Token != "" && extractBearerToken(r) != rt.cfg.Gateway.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

func (rt *runtime) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (rt *runtime) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rt.engine.GetStatus())
}

func (rt *runtime) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.engine.Pause()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"paused": true})
}

func (rt *runtime) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"tools": rt.toolNames()})
}

func (rt *runtime) handleDevMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rt.engine.SetMode(body.Enabled)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"dev_mode": body.Enabled})
}

// handleGC runs one engine tick on demand, outside the heartbeat schedule.
// Each level, hygiene included, still runs only when its own idle and
// cooldown gates allow it.
func (rt *runtime) handleGC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := rt.engine.RunOnce(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rt.engine.GetStatus())
}

func (rt *runtime) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ChatID string `json:"chat_id"`
		UserID string `json:"user_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply := rt.pulse.HandleUserMessage(r.Context(), pulse.Request{
		ChatID: body.ChatID,
		UserID: body.UserID,
		Text:   body.Text,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (rt *runtime) toolNames() []string {
	return rt.tools
}
