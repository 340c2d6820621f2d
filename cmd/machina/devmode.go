package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
)

func devModeCmd() *cobra.Command {
	var enable bool
	cmd := &cobra.Command{
		Use:   "dev-mode",
		Short: "Set or clear the autonomic engine's dev-mode flag on a running machina serve instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			body := map[string]bool{"enabled": enable}
			var out map[string]bool
			if err := newOperatorClient(cfg).do("POST", "/v1/dev-mode", body, &out); err != nil {
				return err
			}
			fmt.Printf("dev_mode: %v\n", out["dev_mode"])
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", true, "enable (true) or disable (false) dev mode")
	return cmd
}
