package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/machina/internal/config"
)

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the action identifiers a running machina serve instance knows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			var out struct {
				Tools []string `json:"tools"`
			}
			if err := newOperatorClient(cfg).do("GET", "/v1/tools", nil, &out); err != nil {
				return err
			}
			for _, t := range out.Tools {
				fmt.Println(t)
			}
			return nil
		},
	}
}
