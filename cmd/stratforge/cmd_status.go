package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stratforge/pkg/forge"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the generation service status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		client := forge.NewClient(cfg.Service.BaseURL, forge.WithTimeout(10*time.Second))

		health, err := client.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("service unreachable at %s: %w", cfg.Service.BaseURL, err)
		}

		status, err := client.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}

		fmt.Printf("Service:     %s\n", cfg.Service.BaseURL)
		fmt.Printf("Health:      %s\n", health)
		fmt.Printf("Status:      %s\n", status.Status)
		fmt.Printf("Generating:  %v\n", status.IsGenerating)
		if status.ActivityCount > 0 {
			fmt.Printf("Activities:  %d\n", status.ActivityCount)
		}
		return nil
	},
}
