package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
)

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run one autonomic engine tick on demand (each level still subject to its cooldown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			var status any
			if err := newOperatorClient(cfg).do("POST", "/v1/gc", nil, &status); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}
