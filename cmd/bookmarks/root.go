package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/bookmarks-mcp/internal/config"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/logging"
	"github.com/dshills/bookmarks-mcp/internal/mcp"
	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/server"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bookmarks",
		Short:         "Hybrid bookmark search server",
		Long:          "bookmarks ranks a user's bookmarks by tags, text and embeddings, and caches rankings per corpus version.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")

	cmd.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newImportCmd(opts),
		newSearchCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the dotenv file, then config file and environment.
// A missing dotenv file is ignored.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// setup loads config and logging and wires the service. stdoutReserved
// forces logs to stderr for commands whose stdout carries data.
func (o *rootOptions) setup(ctx context.Context, stdoutReserved bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if stdoutReserved && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := opts.setup(ctx, withMCP)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			httpServer, err := server.NewServer(a.cfg.Server, a.cfg.Metrics, server.Deps{
				Searcher: a.searcher,
				Importer: a.importer,
				Store:    a.store,
				Versions: a.versions,
				Metrics:  a.metrics,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(httpServer.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			if withMCP {
				g.Go(func() error {
					return serveMCP(gctx, a)
				})
			}

			err = g.Wait()
			a.logger.Info("server stopped")
			_ = a.logger.Sync()
			return err
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "Also speak MCP on stdio")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Speak MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := opts.setup(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.logger.Info("MCP server ready, listening on stdio",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode))
			err = serveMCP(ctx, a)
			_ = a.logger.Sync()
			return err
		},
	}
}

func serveMCP(ctx context.Context, a *app) error {
	s, err := mcp.NewServer(mcp.Deps{
		Searcher: a.searcher,
		Importer: a.importer,
		Store:    a.store,
		Versions: a.versions,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	if err := s.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  int64
		workers int
		batch   int
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import bookmarks from a JSON, YAML or Netscape HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			inputs, err := ingest.LoadFile(args[0])
			if err != nil {
				return err
			}

			a, err := opts.setup(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.importer.Import(ctx, userID, inputs, &ingest.Config{Workers: workers, BatchSize: batch})
			if err != nil {
				return err
			}
			return writeJSON(cmd, stats)
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "Owning user id")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent batches (0 for one per CPU)")
	cmd.Flags().IntVar(&batch, "batch-size", ingest.DefaultBatchSize, "Bookmarks per transaction")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		userID int64
		tags   []string
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Run one search and print the page as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := opts.setup(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			req := plan.Request{UserID: userID, Tags: tags, Limit: limit, Cursor: cursor}
			if len(args) == 1 {
				req.Query = args[0]
			}
			resp, err := a.searcher.Search(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, resp)
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User whose bookmarks are searched")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Required tag (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size (0 for the configured default)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bookmarks %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
