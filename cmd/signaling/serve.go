package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mossy-p/sessionlink/config"
	"github.com/mossy-p/sessionlink/internal/gate"
	"github.com/mossy-p/sessionlink/internal/handlers"
	"github.com/mossy-p/sessionlink/internal/hub"
	"github.com/mossy-p/sessionlink/internal/ice"
	"github.com/mossy-p/sessionlink/internal/logging"
	"github.com/mossy-p/sessionlink/internal/notify"
	"github.com/mossy-p/sessionlink/internal/readiness"
	"github.com/mossy-p/sessionlink/internal/redis"
	"github.com/mossy-p/sessionlink/internal/rooms"
	"github.com/mossy-p/sessionlink/internal/store"
	"github.com/mossy-p/sessionlink/internal/store/mongostore"
	"github.com/mossy-p/sessionlink/internal/store/sqlitestore"
)

const (
	redisPrefix     = "sessionlink:"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	err = st.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return err
	}

	broker, roster, closeRedis, err := openRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	relay := hub.New(broker, roster, st)
	defer relay.Close()

	notifier := notify.NewService(st, relay)
	h := handlers.New(handlers.Deps{
		Config:    cfg,
		Store:     st,
		Hub:       relay,
		Rooms:     rooms.NewResolver(gate.New(st), st, relay),
		Readiness: readiness.NewService(st, relay, notifier),
		Notify:    notifier,
		ICE:       ice.NewProvider(cfg.ICE),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "main").Str("addr", srv.Addr).Str("store", cfg.Store.Driver).
			Bool("redis", cfg.Redis.Enabled).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
		return err
	}
	log.Info().Str("module", "main").Msg("server exited gracefully")
	return nil
}

// openStore opens the configured collaborator store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == "mongo" {
		openCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
		db, err := mongostore.Open(openCtx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := sqlitestore.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// openRelay picks the Redis-backed broker and roster when Redis is enabled and
// the in-process ones otherwise.
func openRelay(ctx context.Context, cfg *config.Config) (hub.Broker, hub.Roster, func(), error) {
	if !cfg.Redis.Enabled {
		return hub.NewMemoryBroker(), hub.NewMemoryRoster(), func() {}, nil
	}

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info().Str("module", "main").Str("host", cfg.Redis.Host).Msg("redis connection established")
	return redis.NewBroker(ctx, client, redisPrefix), redis.NewRoster(client, redisPrefix), func() { client.Close() }, nil
}
