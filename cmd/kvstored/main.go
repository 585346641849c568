package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkaminski/kvstore/internal/config"
	"github.com/mkaminski/kvstore/internal/logging"
	"github.com/mkaminski/kvstore/internal/metrics"
	"github.com/mkaminski/kvstore/internal/replication"
	"github.com/mkaminski/kvstore/internal/server"
	"github.com/mkaminski/kvstore/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "kvstored",
		Short: "kvstored runs a single store node, as a master or a replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults apply if omitted)")
	return cmd
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	log := logging.Component(logger, "kvstored")

	storeConfig := storage.Config{
		IsReplica:             cfg.Server.IsReplica,
		CheckpointInterval:    cfg.Storage.CheckpointInterval,
		CompactionEnabled:     cfg.Compaction.Enabled,
		CompactionInterval:    cfg.Compaction.Interval,
		CompactionThreshold:   cfg.Compaction.Threshold,
		CompactionMinFileSize: cfg.Compaction.MinFileSize,
	}

	store, err := storage.Open(cfg.Storage.DataDir, storeConfig, logging.Component(logger, "storage"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var manager *replication.Manager
	var replicator *replication.Replicator

	if !cfg.Server.IsReplica && cfg.Replication.Enabled {
		manager, err = replication.NewManager(cfg.Replication.Addresses)
		if err != nil {
			return fmt.Errorf("build replica manager: %w", err)
		}
		replicator = replication.New(cfg.Replication, manager, logging.Component(logger, "replicator"))
		replicator.Start()
		defer replicator.Stop()
		store.SetReplicator(replicator)
	} else if !cfg.Server.IsReplica {
		manager, _ = replication.NewManager(nil)
	}

	srv := server.New(cfg.Server, store, manager, logging.Component(logger, "server"))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	var metricsServer *metricsHTTPServer
	if cfg.Metrics.Enabled {
		m := metrics.New()
		srv.SetMetrics(m)
		metricsServer = startMetricsServer(cfg.Metrics.ListenAddr, m, log)
		defer metricsServer.Stop()

		stop := make(chan struct{})
		defer close(stop)
		go sampleMetrics(m, store, replicator, manager, stop)
	}

	log.WithField("is_replica", cfg.Server.IsReplica).Info("kvstored ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	return nil
}

func sampleMetrics(m *metrics.Metrics, store *storage.Store, replicator *replication.Replicator, manager *replication.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CollectStore(store)
			m.CollectReplication(replicator, manager)
		}
	}
}
