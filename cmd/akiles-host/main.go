package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/internal/config"
	"github.com/akiles-app/akiles/internal/logging"
	"github.com/akiles-app/akiles/internal/server"
	"github.com/akiles-app/akiles/runtime"
	"github.com/akiles-app/akiles/translate"
)

// akiles-host: serves a simulated native SDK over the websocket bridge, plus the
// session listing API fed by a poller.
func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		bootLog := logging.New(config.LogConfig{})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logging.New(cfg.Log)

	store, err := runtime.OpenSessionStore(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open session store")
	}
	defer store.Close()

	codec, err := translate.CodecByName(cfg.Bridge.Codec)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid codec")
	}

	simCfg := runtime.SimulatorConfig{
		Store:           store,
		Version:         cfg.Simulator.Version,
		NoBluetooth:     cfg.Simulator.NoBluetooth,
		NoNFC:           cfg.Simulator.NoNFC,
		NoCardEmulation: cfg.Simulator.NoCardEmulation,
		NoSecureNFC:     cfg.Simulator.NoSecureNFC,
		StepDelay:       cfg.Simulator.StepDelay,
		Logger:          log,
	}
	if cfg.Simulator.CardUID != "" {
		simCfg.Card = akiles.Card{UID: cfg.Simulator.CardUID, IsAkilesCard: true}
	}
	sim := runtime.NewSimulator(simCfg)

	opts := akiles.DefaultOptions()
	opts.Logger = log
	client, err := akiles.New(sim, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	poller := runtime.NewSessionPoller(client, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx, cfg.Server.PollInterval)

	_, errCh, err := server.StartHostServer(ctx, server.HostConfig{
		ListenAddr:    cfg.Server.Listen,
		Native:        sim,
		Poller:        poller,
		Codec:         codec,
		Authorization: cfg.Bridge.Auth,
		Logger:        log,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start host server")
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Host server failed")
		}
	}
}
