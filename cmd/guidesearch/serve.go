package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/guidesearch/internal/mcp"
	"github.com/dshills/guidesearch/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server. The server answers tool calls
over stdin/stdout while the model loads in the background; search calls
made before startup finishes are rejected with a not-ready error.

MCP client configuration:
  {
    "mcpServers": {
      "guidesearch": {
        "command": "/path/to/guidesearch",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, _, logger, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	logger.Info("guidesearch MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	server := mcp.NewServer(a, logger)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready, listening on stdio")
		errChan <- server.Serve(ctx)
	}()

	go func() {
		res := a.Start(ctx)
		logger.Info("bootstrap finished",
			zap.Stringer("status", res.Status),
			zap.String("path", string(res.Path)),
			zap.Int("documents", res.Documents),
			zap.Int("vectors", res.Vectors),
			zap.Bool("in_memory", res.InMemory),
		)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	logger.Info("server stopped")
	return nil
}
