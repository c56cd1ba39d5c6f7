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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Relay/internal/adapters/bus"
	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/store"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("bad log level, keeping info")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	userStore, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := userStore.Close(); err != nil {
			log.Error().Err(err).Msg("user store close")
		}
	}()

	writer := app.NewStatusWriter(userStore, app.StatusWriterConfig{
		Shards:          cfg.Status.Shards,
		QueueSize:       cfg.Status.QueueSize,
		Timeout:         cfg.Status.Timeout,
		BreakerFailures: cfg.Status.BreakerFailures,
		BreakerOpenFor:  cfg.Status.BreakerOpenFor,
	})
	defer writer.Close()

	reg := app.NewRegistry()
	local := app.NewLocalRouter()
	var rt core.Router = local

	if cfg.Bus.Driver == "nats" {
		nc, shutdown, err := connectBus(cfg)
		if err != nil {
			return err
		}
		defer shutdown()
		nodeID := cfg.Bus.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		nr, err := bus.NewNATSRouter(nc, local, cfg.Bus.SubjectPrefix, nodeID)
		if err != nil {
			return err
		}
		defer func() { _ = nr.Shutdown() }()
		rt = nr
	}

	policy, err := app.PolicyByName(cfg.Relay.Backpressure)
	if err != nil {
		return err
	}
	o := orch.New(reg, rt, writer, policy)
	o.ChatDeletedScope = cfg.Relay.ChatDeletedScope

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, userStore),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := &app.Sweeper{
		Registry: reg,
		TTL:      cfg.Presence.OfflineTTL,
		Interval: cfg.Presence.SweepInterval,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		n := local.CloseAll()
		waitOffline(shutdownCtx, reg)
		log.Info().Int("connections", n).Msg("connections closed")
		return nil
	})
	return g.Wait()
}

// connectBus dials the configured NATS server, starting an embedded one first
// when asked to.
func connectBus(cfg *config.Config) (*nats.Conn, func(), error) {
	url := cfg.Bus.URL
	var embedded *bus.EmbeddedServer
	if cfg.Bus.Embedded {
		srv, err := bus.StartEmbedded("0.0.0.0", cfg.Bus.EmbeddedPort)
		if err != nil {
			return nil, nil, err
		}
		embedded = srv
		url = srv.ClientURL()
	}
	nc, err := bus.Connect(url, "relay")
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, err
	}
	return nc, func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Str("module", "bus").Msg("drain")
		}
		if embedded != nil {
			embedded.Shutdown()
		}
	}, nil
}

// waitOffline gives read loops a moment to run their offline transition so
// the status writer sees it before it drains.
func waitOffline(ctx context.Context, reg *app.Registry) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for reg.OnlineCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
