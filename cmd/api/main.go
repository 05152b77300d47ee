package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/courtledger/internal/api"
	"github.com/punchamoorthee/courtledger/internal/config"
	"github.com/punchamoorthee/courtledger/internal/logging"
	"github.com/punchamoorthee/courtledger/internal/notify"
	"github.com/punchamoorthee/courtledger/internal/reaper"
	"github.com/punchamoorthee/courtledger/internal/service"
	"github.com/punchamoorthee/courtledger/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := store.Migrate(cfg.DBSource); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	db, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer db.Close()

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.RabbitURL != "" {
		rabbit, err := notify.NewRabbitSink(cfg.RabbitURL, cfg.NotifyExchange, logger)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		sink = rabbit
	}

	// Initialize Layers
	ledger := service.NewLedger(db, sink, logger)
	bookings := service.NewBookingService(db, ledger, sink, logger,
		service.WithHoldTTL(cfg.HoldTTL), service.WithPendingTTL(cfg.PendingTTL))
	planner := service.NewPlanner(db, ledger, sink, logger, service.WithHoldTTL(cfg.HoldTTL))
	tournaments := service.NewTournamentService(db, ledger, logger)

	var reaperOpts []reaper.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		reaperOpts = append(reaperOpts, reaper.WithLeader(reaper.NewRedisLeader(rdb, reaper.DefaultLockKey, cfg.ReaperInterval, logger)))
	}
	sweeper := reaper.New(bookings, cfg.ReaperInterval, logger, reaperOpts...)

	handler := api.NewHandler(api.Services{
		Bookings:    bookings,
		Planner:     planner,
		Ledger:      ledger,
		Tournaments: tournaments,
		Idempotency: service.NewIdempotency(db, logger),
	}, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, api.NewAuthenticator(cfg.JWTSecret)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
