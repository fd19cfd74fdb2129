package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tablesense/tablesense/internal/app"
	"github.com/tablesense/tablesense/internal/catalog"
	"github.com/tablesense/tablesense/internal/config"
	"github.com/tablesense/tablesense/internal/demo"
	"github.com/tablesense/tablesense/internal/index/snapshot"
	"github.com/tablesense/tablesense/internal/indexer"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tablesense-indexer",
		Short:         "Build and inspect the persisted schema index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildCommand(), inspectCommand(), seedDemoCommand())
	return root
}

func buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Catalog the target database, embed every table and save a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadFromEnv("tablesense-indexer")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := observability.NewLogger(cfg, os.Stderr)

			db, err := app.OpenDatabase(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			source, err := app.MetadataSource(cfg, db)
			if err != nil {
				return err
			}
			store, err := app.OpenObjectStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open index store: %w", err)
			}
			embedder, err := app.OpenAIClient(cfg)
			if err != nil {
				return fmt.Errorf("embedding client: %w", err)
			}

			job := &indexer.Job{
				Source: source,
				Builder: catalog.NewBuilder(logger, catalog.Options{
					Tables:       cfg.Catalog.Tables,
					Exclude:      cfg.Catalog.Exclude,
					ProbeTimeout: cfg.Catalog.ProbeTimeout,
				}),
				Embedder:     embedder,
				Model:        embedder.EmbeddingModel(),
				Store:        store,
				Logger:       logger,
				KeepPrevious: cfg.Index.KeepPrevious,
			}
			logger.Info("index_build_started",
				slog.String("db_driver", cfg.Database.Driver),
				slog.String("store", storage.Location(store)),
			)
			summary, err := job.Run(ctx)
			if err != nil {
				logger.Error("index_build_failed", slog.Any("error", err))
				return err
			}

			pterm.Success.Printf("built schema index %s in %s\n", summary.Manifest.BuildID, summary.Duration.Round(time.Millisecond))
			pterm.DefaultBox.WithTitle("Tables").WithPadding(1).Println(strings.Join(summary.Tables, "\n"))
			if len(summary.Pruned) > 0 {
				pterm.Info.Printf("pruned %d older builds: %s\n", len(summary.Pruned), strings.Join(summary.Pruned, ", "))
			}
			return nil
		},
	}
}

func inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the current snapshot manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadFromEnv("tablesense-indexer")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := app.OpenObjectStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open index store: %w", err)
			}
			manifest, err := snapshot.Current(ctx, store)
			if err != nil {
				return err
			}

			data := pterm.TableData{
				{"field", "value"},
				{"build_id", manifest.BuildID},
				{"model", manifest.Model},
				{"dimensions", fmt.Sprint(manifest.Dimensions)},
				{"entries", fmt.Sprint(manifest.Entries)},
				{"created_at", manifest.CreatedAt.Format("2006-01-02 15:04:05Z07:00")},
				{"entries_key", manifest.EntriesKey},
				{"store", storage.Location(store)},
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
				return err
			}
			pterm.DefaultBox.WithTitle("Tables").WithPadding(1).Println(strings.Join(manifest.Tables, "\n"))
			return nil
		},
	}
}

func seedDemoCommand() *cobra.Command {
	var opts demo.Options
	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Create and fill the demo shop tables in the target database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadFromEnv("tablesense-indexer")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := app.OpenDatabase(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			opts.Positional = cfg.Database.Driver == config.DriverPostgres
			summary, err := demo.Seed(ctx, db, opts)
			if err != nil {
				return err
			}
			pterm.Success.Printf("seeded %d customers and %d orders (revenue %.2f)\n", summary.Customers, summary.Orders, summary.Revenue)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Customers, "customers", 25, "number of customers")
	cmd.Flags().IntVar(&opts.Orders, "orders", 200, "number of orders")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}
