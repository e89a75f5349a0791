package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/api"
	"github.com/freebox-home/freebox-bridge/internal/bridge"
	"github.com/freebox-home/freebox-bridge/internal/config"
	"github.com/freebox-home/freebox-bridge/internal/freebox"
	"github.com/freebox-home/freebox-bridge/internal/integration"
	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/internal/storage"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config/freebox-bridge.yml", "path to the configuration file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Str("host", cfg.Freebox.Host).Msg("Freebox bridge starting...")

	// Storage
	store, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := storage.Bootstrap(ctx, store, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}

	// Gateway client
	transport, err := freebox.NewTransport(cfg.Freebox)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gateway transport")
	}

	app := models.AppDescription{
		AppID:      cfg.Freebox.AppID,
		AppName:    cfg.Freebox.AppName,
		AppVersion: cfg.Freebox.AppVersion,
		DeviceName: cfg.Freebox.DeviceName,
	}
	session := freebox.NewSessionManager(transport, store, cfg.Freebox.Host, app)
	defer session.Close()
	client := freebox.NewClient(transport, session)

	// Bridge core
	bus := bridge.NewBus()
	pending := bridge.NewPendingTable()
	coordinator := bridge.NewCoordinator(client, bus, pending, cfg.Poll)
	dispatcher := bridge.NewDispatcher(client, bus, pending)

	go coordinator.Run(ctx)

	// Optional NATS forwarding
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("freebox-bridge"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
	}

	if cfg.NATS.Enabled || cfg.MQTT.Enabled {
		forwarder := integration.NewForwarder(bus, cfg.Freebox.Host, nc, cfg.NATS.SubjectPrefix, cfg.MQTT)
		go func() {
			if err := forwarder.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	// Local REST API
	server := api.NewRESTServer(cfg, store, bus, pending, dispatcher, client)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Signal received, shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("REST API shutdown failed")
	}

	log.Info().Msg("Freebox bridge stopped")
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.DSN)
	default:
		return storage.NewFileStore(cfg.Storage.Path)
	}
}
