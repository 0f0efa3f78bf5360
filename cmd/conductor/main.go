// Copyright 2025 Certen Protocol
//
// cmd/conductor is the soft/firm confirmation daemon entrypoint: it
// wires a sequencer source, an execution client and a data-
// availability source into pkg/conductor and runs its session-driven
// advancement loop until signaled to shut down.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-stack/sequencer/pkg/conductor"
	"github.com/conduit-stack/sequencer/pkg/config"
	"github.com/conduit-stack/sequencer/pkg/status"
)

func main() {
	var (
		configPath = flag.String("config", "./config/conductor.yaml", "Path to conductor YAML configuration")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	logger := log.New(os.Stdout, "[conductor] ", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("starting conductor daemon, config=%s", *configPath)

	cfg, err := config.LoadConductorConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	mode, err := conductor.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatalf("parse mode: %v", err)
	}

	sequencerNamespace, err := hex.DecodeString(cfg.SequencerNamespace)
	if err != nil {
		log.Fatalf("decode sequencer_namespace: %v", err)
	}
	rollupNamespace, err := hex.DecodeString(cfg.RollupNamespace)
	if err != nil {
		log.Fatalf("decode rollup_namespace: %v", err)
	}

	sequencerSource := conductor.NewJSONRPCSequencerSource(cfg.SequencerGRPCAddr)
	executionClient := conductor.NewJSONRPCExecutionClient(cfg.ExecutionGRPCAddr)
	daSource := conductor.NewJSONRPCDASource(cfg.DARPCAddr, cfg.DAAuthToken)

	c := conductor.New(conductor.Config{
		SequencerNamespace: sequencerNamespace,
		RollupNamespace:    rollupNamespace,
		Mode:               mode,
		BackoffInitial:     cfg.Backoff.InitialInterval.Dur(),
		BackoffMax:         cfg.Backoff.MaxInterval.Dur(),
		BackoffMaxElapsed:  cfg.Backoff.MaxElapsedTime.Dur(),
	}, executionClient, sequencerSource, daSource)

	statusSrv := status.New("conductor")
	statusSrv.SetMetricsFn(func() map[string]any {
		m := c.Metrics()
		return map[string]any{
			"soft_number":                   m.SoftNumber,
			"firm_number":                   m.FirmNumber,
			"lowest_celestia_search_height": m.LowestCelestiaSearchHeight,
			"sessions_started":              m.SessionsStarted,
		}
	})
	go func() {
		logger.Printf("status endpoints listening on %s", cfg.HealthAddr)
		if err := statusSrv.ListenAndServe(cfg.HealthAddr); err != nil {
			logger.Printf("status server stopped: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := c.Run(ctx); err != nil {
			logger.Printf("conductor stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down conductor daemon")
	cancel()
	c.Stop()
	logger.Printf("conductor daemon stopped")
}
