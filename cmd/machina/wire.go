package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/machina/internal/autonomic"
	"github.com/nextlevelbuilder/machina/internal/autotest"
	"github.com/nextlevelbuilder/machina/internal/brain"
	"github.com/nextlevelbuilder/machina/internal/config"
	"github.com/nextlevelbuilder/machina/internal/curiosity"
	"github.com/nextlevelbuilder/machina/internal/graphmem"
	"github.com/nextlevelbuilder/machina/internal/learning"
	"github.com/nextlevelbuilder/machina/internal/mcpbridge"
	"github.com/nextlevelbuilder/machina/internal/opsbus"
	"github.com/nextlevelbuilder/machina/internal/permissions"
	"github.com/nextlevelbuilder/machina/internal/pulse"
	"github.com/nextlevelbuilder/machina/internal/regression"
	"github.com/nextlevelbuilder/machina/internal/sessionstore"
	"github.com/nextlevelbuilder/machina/internal/storage"
	"github.com/nextlevelbuilder/machina/internal/substrate"
	"github.com/nextlevelbuilder/machina/internal/tools"
	"github.com/nextlevelbuilder/machina/internal/toolhost"
	"github.com/nextlevelbuilder/machina/internal/tracing"
)

// runtime holds every collaborator wireRuntime builds, so the serve
// command and the status/stop/tools HTTP surface can share one instance.
type runtime struct {
	cfg       *config.Config
	engine    *autonomic.Engine
	pulse     *pulse.Pulse
	perm      *permissions.Engine
	approvals *sessionstore.Approvals
	bus       *opsbus.Bus
	mcp       *mcpbridge.Manager
	tools     []string
	shutdown  func(context.Context) error
}

// wireRuntime builds the full collaborator graph described by SPEC_FULL.md's
// module map: config -> substrate -> permission/tools -> autonomic.Engine +
// pulse.Pulse, plus the opsbus alert delivery loop and tracing provider.
func wireRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	root := cfg.WorkspacePath()
	workDir := filepath.Join(root, "work")
	memDir := filepath.Join(workDir, "memory")
	queueDir := filepath.Join(workDir, "queue")
	scriptsDir := filepath.Join(workDir, "scripts")
	utilsDir := filepath.Join(scriptsDir, "utils")
	historyDir := filepath.Join(workDir, "history")

	_, shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	store := storage.New(memDir)
	graph := graphmem.New(store)
	sub := substrate.New(store, graph, nil)

	perm := permissions.NewEngine(permissions.Mode(cfg.Permissions.Mode))
	for actionID, level := range cfg.Permissions.Defaults {
		perm.SetDefault(actionID, tools.Decision(level))
	}
	if len(cfg.Permissions.Overrides) > 0 {
		envOverrides := make(map[string]tools.Decision, len(cfg.Permissions.Overrides))
		for actionID, level := range cfg.Permissions.Overrides {
			envOverrides[actionID] = tools.Decision(level)
		}
		perm.SetEnvOverrides(envOverrides)
	}

	registry := tools.NewBuiltinRegistry(sub, sub)
	dispatch := tools.NewDispatch(registry, perm)

	mcpMgr := wireMCPBridge(registry, cfg)

	if cfg.ToolHost.Command != "" {
		dispatch.SetFallback(toolhost.New(cfg.ToolHost.Command, cfg.ToolHost.Args...))
	}

	llmClient := brain.NewHTTPClient(cfg.Brain)
	recorder := learning.New(sub)

	history := sessionstore.New(historyDir)
	approvals := sessionstore.NewApprovals()
	pulseBrain := pulse.NewLLMBrain(llmClient)
	knownTools := registry.List()

	p := pulse.New(cfg.Pulse, pulseBrain, dispatch, perm, approvals, history, sub, recorder, nil, knownTools)

	// The Tester level's intent classifier reuses the live Pulse Executor's
	// own route classifier rather than shelling out a second time, since
	// pulse.Pulse.Classify already satisfies autotest.IntentClassifier.
	engine, err := wireAutonomicEngine(cfg, sub, recorder, llmClient, p, queueDir, scriptsDir, utilsDir, memDir)
	if err != nil {
		return nil, fmt.Errorf("wire autonomic engine: %w", err)
	}

	bus := opsbus.NewBus(cfg.Gateway.AllowedOrigins)

	shutdown := func(ctx context.Context) error {
		return shutdownTracing(ctx)
	}

	return &runtime{
		cfg:       cfg,
		engine:    engine,
		pulse:     p,
		perm:      perm,
		approvals: approvals,
		bus:       bus,
		mcp:       mcpMgr,
		tools:     knownTools,
		shutdown:  shutdown,
	}, nil
}

// wireMCPBridge connects every enabled internal/config.MCPServerConfig
// entry as virtual action identifiers on registry (spec.md §6 "MCP
// bridge").
func wireMCPBridge(registry *tools.Registry, cfg *config.Config) *mcpbridge.Manager {
	configs := make(map[string]mcpbridge.ServerConfig, len(cfg.Tools.McpServers))
	for name, sc := range cfg.Tools.McpServers {
		configs[name] = mcpbridge.ServerConfig{
			Name:       name,
			Transport:  sc.Transport,
			Command:    sc.Command,
			Args:       sc.Args,
			Env:        sc.Env,
			URL:        sc.URL,
			Headers:    sc.Headers,
			TimeoutSec: sc.TimeoutSec,
			Enabled:    sc.IsEnabled(),
		}
	}
	mgr := mcpbridge.NewManager(registry, configs)
	if len(configs) > 0 {
		if err := mgr.Start(context.Background()); err != nil {
			slog.Warn("mcpbridge.start_partial_failure", "error", err)
		}
	}
	return mgr
}

// wireAutonomicEngine assembles autonomic.Handlers from autotest/curiosity/
// learning/regression, matching each level to the concrete package spec.md
// §4.9 names for it.
func wireAutonomicEngine(cfg *config.Config, sub *substrate.Substrate, recorder *learning.Recorder, llmClient brain.Client, classifier autotest.IntentClassifier, queueDir, scriptsDir, utilsDir, memDir string) (*autonomic.Engine, error) {
	alerts := autonomic.NewAlertQueue()

	limits := curiosity.ProductionLimits()
	if cfg.Autonomic.Profile == "dev-explore" {
		limits = curiosity.DevLimits()
	}
	goalSynth := brain.NewGoalSynthesizer(llmClient)
	regressionGate := regression.New(cfg.Regression.Command, cfg.Regression.Args, filepath.Join(memDir, "regression_baseline.json"))
	curiosityDriver := curiosity.New(sub, goalSynth, recorder, regressionGate, utilsDir, nil, limits)

	questionGen := brain.NewQuestionGenerator(llmClient)
	questioner := autotest.NewQuestioner(sub, nil, nil, questionGen)
	tester := autotest.NewTester(classifier)
	diagGen := brain.NewDiagnosticGenerator(llmClient)
	healer := autotest.NewHealer(diagGen, recorder, scriptsDir)

	var lastTestResults []autotest.TestResult

	handlers := autonomic.Handlers{
		Test: autonomic.LevelHandlerFunc(func(ctx context.Context, now time.Time) (bool, error) {
			scenarios := questioner.Generate(ctx)
			if len(scenarios) == 0 {
				return false, nil
			}
			lastTestResults = tester.RunBatch(ctx, scenarios, func(int) bool { return false })
			return len(lastTestResults) > 0, nil
		}),
		Heal: autonomic.LevelHandlerFunc(func(ctx context.Context, now time.Time) (bool, error) {
			if len(lastTestResults) == 0 {
				return false, nil
			}
			result := healer.Heal(ctx, now, lastTestResults)
			return result.Attempted, nil
		}),
		Curiosity: autonomic.LevelHandlerFunc(func(ctx context.Context, now time.Time) (bool, error) {
			outcome := curiosityDriver.RunCycle(ctx, now)
			if outcome.RunErr != "" {
				return outcome.Ran, fmt.Errorf("%s", outcome.RunErr)
			}
			return outcome.Ran && outcome.Accepted, nil
		}),
		DrainInbox: autonomic.NewInboxDrainer(queueDir, nil),
		Hygiene: autonomic.NewHygiene(sub.Store, autonomic.NewRewardTracker(50), autonomic.DefaultHygieneConfig(scriptsDir),
			[]string{"experiences", "skills", "insights", "genesis_suggestions"}, alerts),
	}

	statePath := filepath.Join(memDir, "autonomic_state.json")
	engine, err := autonomic.New(cfg.Autonomic, statePath, handlers, sub, alerts)
	if err != nil {
		return nil, err
	}
	engine.SetAuditSink(sub)
	return engine, nil
}
