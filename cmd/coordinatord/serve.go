package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fiatescrow/coordinator/pkg/chain"
	"github.com/fiatescrow/coordinator/pkg/config"
	"github.com/fiatescrow/coordinator/pkg/database"
	"github.com/fiatescrow/coordinator/pkg/metrics"
	"github.com/fiatescrow/coordinator/pkg/opsserver"
	"github.com/fiatescrow/coordinator/pkg/sweeper"
	"github.com/fiatescrow/coordinator/pkg/tailer"
)

func newServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tailer, expiry sweeper, and ops HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "coordinator.yaml", "optional YAML defaults file")
	return cmd
}

func runServe(configFile string) error {
	logger := log.New(os.Stdout, "coordinatord: ", log.LstdFlags|log.Lmicroseconds)

	if err := config.LoadDefaultsFile(configFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.MigrateUp(ctx); err != nil {
		return err
	}

	status := opsserver.NewStatus()
	status.SetDatabase("connected")

	gateway, err := chain.NewGateway(ctx, cfg.EthereumURL, cfg.EthChainID, common.HexToAddress(cfg.EscrowContractAddress), cfg.SignerPrivateKey)
	if err != nil {
		status.SetChain("disconnected")
		return err
	}
	defer gateway.Close()
	status.SetChain("connected")

	tailerClient, err := ethclient.DialContext(ctx, cfg.EthereumURL)
	if err != nil {
		return err
	}
	defer tailerClient.Close()

	reg := metrics.New(prometheus.DefaultRegisterer)

	tailerCfg := tailer.DefaultConfig(common.HexToAddress(cfg.EscrowContractAddress))
	tailerCfg.BatchSize = cfg.TailerBatchSize
	tailerCfg.ReorgDepth = cfg.TailerReorgDepth
	tailerCfg.PollInterval = cfg.TailerPollInterval

	t, err := tailer.New(tailerClient, tailerCfg, db, logger, reg)
	if err != nil {
		return err
	}

	sweeperCfg := sweeper.Config{Interval: cfg.SweeperInterval, BatchLimit: cfg.SweeperBatchSize}
	s := sweeper.New(gateway, database.NewReservationRepository(db), sweeperCfg, logger)

	go func() {
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("tailer stopped: %v", err)
		}
	}()
	go func() {
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("sweeper stopped: %v", err)
		}
	}()

	opsSrv := opsserver.New(cfg.HealthAddr, status)
	go func() {
		logger.Printf("ops server listening on %s", cfg.HealthAddr)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("ops server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return opsserver.Shutdown(shutdownCtx, opsSrv)
}
