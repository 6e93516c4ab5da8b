package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syssam/gqlcache/config"
	"github.com/syssam/gqlcache/server"
	"github.com/syssam/gqlcache/server/repository"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, storage string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the GraphQL server",
		Long: `Run the GraphQL server on the configured address.

Comments live in memory for the lifetime of the process. The sqlite
storage keeps them in an in-memory SQLite database unless server.sqlite_dsn
points at a file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if storage != "" {
				cfg.Server.Storage = storage
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, root.logger(cmd))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&storage, "storage", "", "Storage backend: memory or sqlite (overrides server.storage)")
	return cmd
}

func openRepository(ctx context.Context, cfg config.ServerConfig, opts ...repository.Option) (repository.Repository, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return repository.NewMemory(opts...), nil
	case config.StorageSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLiteDSN, opts...)
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ropts := []repository.Option{repository.WithLogger(logger)}
	if cfg.Server.SlowQuery > 0 {
		ropts = append(ropts, repository.WithSlowQuery(cfg.Server.SlowQuery))
	}
	repo, err := openRepository(ctx, cfg.Server, ropts...)
	if err != nil {
		return err
	}
	defer repo.Close()

	resolver := server.NewResolver(repo,
		server.WithLogger(logger),
		server.WithMaxLast(cfg.Server.MaxLast),
	)
	hopts := []server.HandlerOption{
		server.WithPlayground(cfg.Server.Playground),
		server.WithHandlerLogger(logger),
	}
	if cfg.Server.ComplexityLimit > 0 {
		hopts = append(hopts, server.WithComplexityLimit(cfg.Server.ComplexityLimit))
	}
	h := server.NewHandler(resolver, hopts...)
	logger.Info("starting server", "storage", cfg.Server.Storage, "playground", cfg.Server.Playground)
	return server.New(cfg.Server.Addr, h, logger).ListenAndServe(ctx)
}
