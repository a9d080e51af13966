package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/config"
	"github.com/engramkit/engram/internal/log"
	"github.com/engramkit/engram/internal/system"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print memory system health as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Quiet logger: the command's output is the JSON document.
		logger := log.New(log.Config{Level: slog.LevelError})

		sys, err := system.New(cfg.DataDir, logger)
		if err != nil {
			return fmt.Errorf("failed to open memory system: %w", err)
		}
		defer sys.Close()

		health := sys.Health(cmd.Context())
		out, err := json.MarshalIndent(health, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode health report: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
