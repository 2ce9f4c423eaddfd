package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/bridge"
	"github.com/dongle-server/dongle-server/internal/config"
	"github.com/dongle-server/dongle-server/internal/discovery"
	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/internal/storage"
	"github.com/dongle-server/dongle-server/internal/telemetry"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/dongle-bridge.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	log.Info().Msg("Dongle bridge starting")
	cfg.LogSummary()

	telemetry.InitMetrics()
	if cfg.Trace.Enabled {
		shutdown, err := telemetry.InitTracer("dongle-bridge", cfg.Server.Version, os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to init tracer")
		}
		defer shutdown(context.Background())
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	log.Info().Msg("Connected to database")

	// Connect to NATS
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("dongle-bridge"),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	log.Info().Msg("Connected to NATS")

	// Bridge service and AMI session
	cell := &discovery.SnapshotCell{}
	session := ami.NewSession(cfg.AMI.SessionConfig())
	svc := bridge.NewService(session, store, nc, cell, bridge.WithStateTTL(cfg.Bridge.StateCacheTTL))
	session.SetHooks(svc.SessionHooks())

	if version, err := connectAMI(ctx, session, cfg); err != nil {
		// The poller retries through Execute, which reconnects on its own
		log.Error().Err(err).Str("kind", ami.Kind(err)).Msg("Initial AMI login failed")
	} else {
		svc.PublishStatus(true, session.Banner(), version)
	}

	poller := discovery.NewPoller(session, cell, svc,
		discovery.WithInterval(cfg.Discovery.Interval),
		discovery.WithBackoffMax(cfg.Discovery.BackoffMax),
	)
	handlers := bridge.NewHandlers(svc, poller.Poll, cfg.NATS.RequestTimeout)

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RunStateMonitor(ctx, cfg.Discovery.StateInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := handlers.Start(ctx, nc); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Bridge request handlers stopped")
		}
	}()

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	metricsServer := &http.Server{Addr: cfg.Bridge.MetricsAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.Bridge.MetricsAddr).Msg("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := session.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close AMI session")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown metrics server")
	}

	log.Info().Msg("Dongle bridge stopped")
}

// connectAMI opens the session, logs in and runs the version check. It returns
// the Asterisk version line.
func connectAMI(ctx context.Context, session *ami.Session, cfg *config.Config) (string, error) {
	if err := session.Connect(ctx); err != nil {
		return "", err
	}
	if err := session.Login(ctx, cfg.AMI.Username, cfg.AMI.Secret); err != nil {
		return "", err
	}

	res, err := session.CheckVersion(ctx)
	if err != nil {
		return "", err
	}

	version := dongle.ParseVersion(res.Raw)
	log.Info().
		Str("banner", session.Banner()).
		Str("version", version).
		Msg("AMI session ready")
	return version, nil
}
