package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
)

// initCmd runs an interactive onboarding wizard producing a machina.json5
// config file, generalized from the teacher's cmd/onboard_*.go flows onto
// machina's workspace/brain/permissions/gateway collaborators.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively generate a machina.json5 config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	cfg := config.Default()

	portStr := strconv.Itoa(cfg.Gateway.Port)
	confirmed := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace root").
				Description("Persistent state lives under <root>/work").
				Value(&cfg.Workspace.Root),
			huh.NewSelect[string]().
				Title("Brain provider").
				Options(
					huh.NewOption("anthropic", "anthropic"),
					huh.NewOption("openai", "openai"),
					huh.NewOption("openrouter", "openrouter"),
				).
				Value(&cfg.Brain.Provider),
			huh.NewInput().
				Title("Brain model").
				Value(&cfg.Brain.Model),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Permissions mode").
				Options(
					huh.NewOption("standard", "standard"),
					huh.NewOption("open", "open"),
					huh.NewOption("locked", "locked"),
					huh.NewOption("supervised", "supervised"),
				).
				Value(&cfg.Permissions.Mode),
			huh.NewInput().
				Title("Gateway host").
				Value(&cfg.Gateway.Host),
			huh.NewInput().
				Title("Gateway port").
				Value(&portStr),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write machina.json5 now?").
				Affirmative("Yes").
				Negative("Cancel").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboarding wizard: %w", err)
	}
	if !confirmed {
		fmt.Fprintln(os.Stdout, "cancelled")
		return nil
	}

	if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
		cfg.Gateway.Port = port
	}

	path := resolveConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s — API keys and the gateway token are read from environment variables only (never persisted); set MACHINA_BRAIN_API_KEY and MACHINA_GATEWAY_TOKEN before running `machina serve`.\n", path)
	return nil
}
