package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/meetroom/internal/adapters/auth"
	router "github.com/dkeye/meetroom/internal/adapters/http"
	"github.com/dkeye/meetroom/internal/adapters/pubsub"
	"github.com/dkeye/meetroom/internal/adapters/rtc"
	wsignal "github.com/dkeye/meetroom/internal/adapters/signal"
	"github.com/dkeye/meetroom/internal/adapters/storage/gormstore"
	"github.com/dkeye/meetroom/internal/adapters/storage/memory"
	"github.com/dkeye/meetroom/internal/app"
	"github.com/dkeye/meetroom/internal/config"
	"github.com/dkeye/meetroom/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (core.Store, error) {
	if cfg.Database.Driver != "postgres" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	db, err := gormstore.Connect(ctx, cfg.Database.DSN, cfg.Database.ConnRetries, cfg.Database.RetryInterval)
	if err != nil {
		return nil, err
	}
	store := gormstore.New(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	identity, err := auth.NewJWTResolver(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var bus core.GroupBroadcaster = core.NewHub()
	if cfg.Redis.Addr != "" {
		rdb, err := pubsub.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rb := pubsub.NewRedisBroadcaster(rdb, cfg.Redis.Prefix)
		bus = rb
		g.Go(func() error { return rb.Run(ctx) })
	}

	rooms := app.NewLifecycle(store, bus)
	rooms.SignalTTL = cfg.Retention.Signals

	reg := app.NewRegistry()
	janitor, err := app.NewJanitor(rooms, reg, cfg.Retention.Schedule, cfg.Retention.RoomIdle)
	if err != nil {
		return err
	}
	g.Go(func() error { return janitor.Run(ctx) })

	opts := wsignal.DefaultOptions()
	opts.ReadLimit = cfg.WS.ReadLimit
	opts.PingPeriod = cfg.WS.PingPeriod
	opts.PongWait = cfg.WS.PongWait
	opts.WriteWait = cfg.WS.WriteWait
	opts.SendBuffer = cfg.WS.SendBuffer
	opts.RateLimits = map[wsignal.MessageType]int{
		wsignal.MsgChat:     cfg.RateLimit.Chat,
		wsignal.MsgReaction: cfg.RateLimit.Reaction,
	}
	opts.RateDefault = cfg.RateLimit.Default

	ctl := wsignal.NewSignalWSController(rooms, bus, reg, app.SimplePolicy{}, identity, opts)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Rooms:    rooms,
		Identity: identity,
		Signal:   ctl,
		WebRTC:   rtc.NewWebRTCConfig(cfg.WebRTC.ICEServers),
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Meetroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	return g.Wait()
}
