// Copyright 2025 Certen Protocol
//
// cmd/sequenced is the sequencer daemon entrypoint: it wires the kv
// store, application mempool and transaction builder into the ABCI
// App and serves it over a CometBFT ABCI socket. The consensus engine
// itself is a separate CometBFT
// process dialing this socket; it is out of scope here.
package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	abciserver "github.com/cometbft/cometbft/abci/server"
	dbm "github.com/cometbft/cometbft-db"
	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/conduit-stack/sequencer/pkg/accounts"
	"github.com/conduit-stack/sequencer/pkg/app"
	"github.com/conduit-stack/sequencer/pkg/asset"
	"github.com/conduit-stack/sequencer/pkg/config"
	"github.com/conduit-stack/sequencer/pkg/kv"
	"github.com/conduit-stack/sequencer/pkg/mempool"
	"github.com/conduit-stack/sequencer/pkg/status"
	"github.com/conduit-stack/sequencer/pkg/transaction"
	"github.com/conduit-stack/sequencer/pkg/txservice"
)

const defaultAddressPrefix = "sequencer"

var errABCIServerDown = errors.New("sequenced: abci server not running")

func main() {
	var (
		configPath = flag.String("config", "./config/sequencer.yaml", "Path to sequencer YAML configuration")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	logger := log.New(os.Stdout, "[sequenced] ", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("starting sequencer daemon, config=%s", *configPath)

	cfg, err := config.LoadSequencerConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := dbm.NewDB("sequencer", dbm.GoLevelDBBackend, cfg.DataDir)
	if err != nil {
		log.Fatalf("open sequencer db: %v", err)
	}
	defer db.Close()

	store := kv.NewStore(kv.NewDBBackend(db))
	mp := mempool.New(cfg.Mempool.ParkedSizeLimit, cfg.Mempool.RemovalCacheSize)
	builder := transaction.NewBuilder(cfg.ChainID, defaultAddressPrefix, asset.NewFeeSchedules())

	application := app.New(
		store,
		mp,
		builder,
		cfg.ChainID,
		defaultAddressPrefix,
		app.UpgradeHeight(cfg.Upgrade.ValidatorSetMigrationHeight),
		nil,
	)

	srv := abciserver.NewSocketServer(cfg.ListenAddr, application)
	srv.SetLogger(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)))
	if err := srv.Start(); err != nil {
		log.Fatalf("start abci server: %v", err)
	}
	logger.Printf("ABCI application listening on %s", cfg.ListenAddr)

	ledger := accounts.NewLedger()
	txSrv := txservice.New(mp, builder, store, application.Deps(),
		func(view kv.View, checked *transaction.CheckedTransaction) (uint32, error) {
			return ledger.GetAccountNonce(view, checked.Signer)
		},
		application.LatestHeight,
	)
	go func() {
		if err := txSrv.ListenAndServe(cfg.TxServiceAddr); err != nil {
			logger.Printf("transaction service stopped: %v", err)
		}
	}()

	statusSrv := status.New("sequencer")
	statusSrv.RegisterCheck("abci_server", func() error {
		if !srv.IsRunning() {
			return errABCIServerDown
		}
		return nil
	})
	statusSrv.SetMetricsFn(func() map[string]any {
		return map[string]any{
			"chain_id": cfg.ChainID,
		}
	})
	go func() {
		logger.Printf("status endpoints listening on %s", cfg.HealthAddr)
		if err := statusSrv.ListenAndServe(cfg.HealthAddr); err != nil {
			logger.Printf("status server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down sequencer daemon")
	if err := srv.Stop(); err != nil {
		logger.Printf("abci server shutdown error: %v", err)
	}
	logger.Printf("sequencer daemon stopped")
}
