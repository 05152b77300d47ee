package main

import (
	"context"
	"fmt"
	"os"

	"github.com/punchamoorthee/courtledger/internal/config"
	"github.com/punchamoorthee/courtledger/internal/logging"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "courtctl",
	Short: "Operate a courtledger deployment",
	Long: `courtctl runs maintenance against the courtledger database: schema
migrations, seeding, deposit review, one-off reaper passes and load tests.
Database settings come from the same environment variables as the API server.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles what most subcommands need.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store *store.PostgresStore
}

func (e *env) Close() {
	e.store.Close()
	_ = e.log.Sync()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	db, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &env{cfg: cfg, log: log, store: db}, nil
}
