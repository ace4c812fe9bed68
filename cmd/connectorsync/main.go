// Command connectorsync runs the connector sync orchestration service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"connectorsync/internal/config"
	configfile "connectorsync/internal/config/file"
	"connectorsync/internal/connector"
	"connectorsync/internal/home"
	"connectorsync/internal/logging"
	"connectorsync/internal/orchestrator"
	"connectorsync/internal/searchindex"
	"connectorsync/internal/searchindex/esclient"
	"connectorsync/internal/source"
	"connectorsync/internal/source/azuresource"
	"connectorsync/internal/source/directory"
	"connectorsync/internal/source/gcssource"
	"connectorsync/internal/source/kafkasource"
	"connectorsync/internal/source/s3source"
	"connectorsync/internal/syncjob"
)

var version = "dev"

func main() {
	var debug bool
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "connectorsync",
		Short: "Connector sync orchestration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(debug)
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger, configFile)
		},
	}
	rootCmd.Flags().StringVar(&configFile, "config-file", defaultConfigFile(), "path to the service's own JSON config file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "raise log level to debug")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLogger wires a ComponentFilterHandler over a text handler, per the
// package's dependency-injected logging convention: no slog.SetDefault,
// every component gets its logger passed in.
func buildLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, level)
	return slog.New(filterHandler)
}

// defaultConfigFile resolves the platform-appropriate config path when
// --config-file isn't given explicitly. Falls back to a relative path if
// the platform config directory can't be determined.
func defaultConfigFile() string {
	dir, err := home.Default()
	if err != nil {
		return "connectorsync.json"
	}
	return dir.ConfigPath()
}

func run(ctx context.Context, logger *slog.Logger, configFile string) error {
	cfgStore := configfile.NewStore(configFile)

	cfg, err := cfgStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		logger.Info("no config file found, bootstrapping defaults", "path", configFile)
		cfg = config.DefaultConfig()
		if err := cfgStore.Save(ctx, cfg); err != nil {
			return fmt.Errorf("save default config: %w", err)
		}
	}

	client, err := esclient.New(cfg.SearchCluster.Addresses, cfg.SearchCluster.Username, cfg.SearchCluster.Password, cfg.SearchCluster.APIKey)
	if err != nil {
		return fmt.Errorf("build search cluster client: %w", err)
	}

	registry := buildRegistry()

	connectors := searchindex.New(client, ".elastic-connectors", connector.MakeConnector, logger)
	jobs := searchindex.New(client, ".elastic-connectors-sync-jobs", syncjob.MakeJob, logger)

	orch, err := orchestrator.New(client, connectors, jobs, registry, orchestrator.Config{
		ServiceTypes:        cfg.ServiceTypes,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		StuckJobsThreshold:  cfg.StuckJobsThreshold,
		ConcurrentDownloads: cfg.ConcurrentDownloads,
		ChunkSize:           cfg.ChunkSize,
		Pipeline:            cfg.Pipeline,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	logger.Info("starting orchestrator", "poll_interval", cfg.PollInterval, "service_types", cfg.ServiceTypes)
	if err := orch.Start(ctx, cfg.PollInterval); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight sync")

	if err := orch.Stop(); err != nil {
		logger.Error("orchestrator stop reported an error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildRegistry wires every Source adapter this binary ships with into a
// service_type -> Adapter registry. Which service_types a given replica
// actually claims is governed by config.Config.ServiceTypes, not by what
// is registered here.
func buildRegistry() *source.Registry {
	registry := source.NewRegistry()
	registry.Register("directory", directory.Adapter)
	registry.Register("s3", s3source.Adapter)
	registry.Register("azure_blob_storage", azuresource.Adapter)
	registry.Register("google_cloud_storage", gcssource.Adapter)
	registry.Register("kafka", kafkasource.Adapter)
	return registry
}
