package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Pause a running machina serve instance's autonomic engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			var out map[string]bool
			if err := newOperatorClient(cfg).do("POST", "/v1/stop", nil, &out); err != nil {
				return err
			}
			fmt.Printf("paused: %v\n", out["paused"])
			return nil
		},
	}
}
