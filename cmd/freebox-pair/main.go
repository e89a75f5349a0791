package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/config"
	"github.com/freebox-home/freebox-bridge/internal/freebox"
	"github.com/freebox-home/freebox-bridge/internal/models"
	"github.com/freebox-home/freebox-bridge/internal/storage"
)

// freebox-pair runs the pairing handshake interactively: it requests an
// authorization from the gateway and waits until the user confirms or
// rejects it on the gateway's front panel.
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

	store, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// A still-pending earlier pairing can simply be resumed.
	status, err := session.PairingStatus(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query pairing status")
	}

	switch status {
	case models.PairingPaired:
		log.Info().Str("host", cfg.Freebox.Host).Msg("Already paired, nothing to do")
		return
	case models.PairingUnpaired:
		if _, err := session.StartPairing(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start pairing")
		}
	}

	log.Info().Msg("Press the confirmation button on the gateway's front panel...")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Interrupted, pairing left pending")
			return
		case <-ticker.C:
		}

		status, err := session.PairingStatus(ctx)
		if err != nil {
			if freebox.IsTransient(err) {
				log.Warn().Err(err).Msg("Gateway unreachable, retrying")
				continue
			}
			log.Fatal().Err(err).Msg("Pairing failed")
		}

		switch status {
		case models.PairingPaired:
			log.Info().Str("host", cfg.Freebox.Host).Msg("Pairing confirmed, credential stored")
			return
		case models.PairingUnpaired:
			log.Fatal().Msg("Pairing was denied or timed out on the gateway")
		}
	}
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.DSN)
	default:
		return storage.NewFileStore(cfg.Storage.Path)
	}
}
