// Copyright 2025 Certen Protocol
//
// cmd/relayer is the DA-submission daemon entrypoint: it wires a
// sequencer RPC source and a data-availability JSON-RPC broadcaster
// into pkg/relayer and runs its fetch/compress/submit loop until
// signaled to shut down.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/conduit-stack/sequencer/pkg/config"
	"github.com/conduit-stack/sequencer/pkg/relayer"
	"github.com/conduit-stack/sequencer/pkg/status"
)

func main() {
	var (
		configPath = flag.String("config", "./config/relayer.yaml", "Path to relayer YAML configuration")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	logger := log.New(os.Stdout, "[relayer] ", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("starting relayer daemon, config=%s", *configPath)

	cfg, err := config.LoadRelayerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sequencerNamespace, err := hex.DecodeString(cfg.SequencerNamespace)
	if err != nil {
		log.Fatalf("decode sequencer_namespace: %v", err)
	}

	rollupFilter := make(map[string]struct{}, len(cfg.RollupIDFilter))
	for _, idHex := range cfg.RollupIDFilter {
		id, err := hex.DecodeString(idHex)
		if err != nil {
			log.Fatalf("decode rollup_id_filter entry %q: %v", idHex, err)
		}
		rollupFilter[string(id)] = struct{}{}
	}

	var validatorAddress []byte
	if cfg.ValidatorAddress != "" {
		validatorAddress, err = hex.DecodeString(cfg.ValidatorAddress)
		if err != nil {
			log.Fatalf("decode validator_address: %v", err)
		}
	}

	source, err := relayer.NewCometRPCSequencerSource(cfg.SequencerGRPCAddr)
	if err != nil {
		log.Fatalf("dial sequencer: %v", err)
	}
	da := relayer.NewJSONRPCDABroadcaster(cfg.DARPCAddr, cfg.DAAuthToken, sequencerNamespace)

	r := relayer.New(relayer.Config{
		SequencerNamespace: sequencerNamespace,
		RollupIDFilter:     rollupFilter,
		ValidatorAddress:   validatorAddress,
		OnlyOwnBlocks:      cfg.OnlyOwnBlocks,
		StateDir:           cfg.StateDir,
		MinReadyPeers:      cfg.MinReadyPeers,
		BackoffInitial:     cfg.Backoff.InitialInterval.Dur(),
		BackoffMax:         cfg.Backoff.MaxInterval.Dur(),
		BackoffMaxElapsed:  cfg.Backoff.MaxElapsedTime.Dur(),
	}, source, da)

	statusSrv := status.New("relayer")
	statusSrv.RegisterCheck("da_peers", func() error {
		return r.ReadyZ(context.Background())
	})
	statusSrv.SetMetricsFn(func() map[string]any {
		m := r.Metrics()
		return map[string]any{
			"latest_fetched_height":   m.LatestFetchedHeight,
			"latest_observed_height":  m.LatestObservedHeight,
			"latest_confirmed_height": m.LatestConfirmedHeight,
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
		if err := r.Run(ctx); err != nil {
			logger.Printf("relayer stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down relayer daemon")
	cancel()
	r.Stop()
	logger.Printf("relayer daemon stopped")
}
