package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/config"
	"github.com/engramkit/engram/internal/dispatch"
	"github.com/engramkit/engram/internal/log"
	"github.com/engramkit/engram/internal/mcp"
	"github.com/engramkit/engram/internal/system"
	"github.com/engramkit/engram/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Serve opens the memory stores and speaks the Model Context Protocol
on stdin/stdout. Logs go to stderr. With watching enabled, transcript
files dropped into the configured directories are imported as they
appear.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	logger.Info("starting engram", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := system.New(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize memory system: %w", err)
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Error("failed to close memory system", "error", err)
		}
	}()

	dispatcher := dispatch.New(sys, logger)

	server, err := mcp.NewServer(mcp.Config{
		Name:    "engram",
		Version: version,
	}, dispatcher, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if cfg.WatchEnabled {
		monitor := watch.NewMonitor(sys, cfg.WatchDirs, logger)
		go func() {
			if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("file monitor stopped", "error", err)
			}
		}()
	}

	logger.Info("MCP server listening on stdio")
	if err := server.Run(ctx, &mcpSdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
