package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crewgate/internal/config"
	"github.com/fyrsmithlabs/crewgate/internal/logging"
	"github.com/fyrsmithlabs/crewgate/internal/mcp"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/store"
	"github.com/fyrsmithlabs/crewgate/internal/store/sqlstore"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

var mcpConfig string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfig, "config", "", "crewgated config file (pattern table, store, size limit)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the vetting and reply tools over MCP stdio",
	Long: `Serve scan_content, compute_hash, vet_skill and scan_reply to an MCP
client over stdin/stdout.

The tools run in-process against the configured pattern table. vet_skill
reads the skill registry from the configured MySQL store; with the memory
driver every skill is unknown to the registry. Logs go to stderr.

Example MCP client entry:
  {"command": "crewctl", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(mcpConfig)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout carries the protocol.
	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	lcfg.Output.Stream = "stderr"
	logger, err := logging.NewLogger(lcfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Underlying().Sync() }()

	registry, closeStore, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	src, err := patterns.NewSource(cfg.Patterns.File, logger.Named("patterns"))
	if err != nil {
		return fmt.Errorf("loading pattern table: %w", err)
	}
	if cfg.Patterns.Watch {
		if err := src.Start(ctx); err != nil {
			return err
		}
		defer src.Stop()
	}

	vetter := vetting.NewVetter(vetting.NewScanner(src), registry, logger.Named("vetting"),
		vetting.WithMaxContentBytes(cfg.Vetting.MaxContentBytes))
	server, err := mcp.NewServer(&mcp.Config{
		Name:    "crewgate",
		Version: version,
		Logger:  logger.Underlying(),
	}, vetter, replyscan.New(src))
	if err != nil {
		return err
	}

	logger.Info(ctx, "serving MCP on stdio",
		zap.String("store", cfg.Store.Driver),
		zap.String("patterns", src.Matcher().Version()))
	return server.Run(ctx)
}

// openRegistry returns the store the vetter reads the skill registry from.
func openRegistry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (vetting.Collaborators, func(), error) {
	if cfg.Store.Driver != "mysql" {
		return store.NewMemory(), func() {}, nil
	}
	sql, err := sqlstore.Open(cfg.Store.DSN.Value(), sqlstore.WithLogger(logger.Named("sqlstore")))
	if err != nil {
		return nil, nil, err
	}
	if err := sql.Ping(ctx); err != nil {
		_ = sql.Close()
		return nil, nil, err
	}
	return sql, func() { _ = sql.Close() }, nil
}
