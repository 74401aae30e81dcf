package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/jentle/kafka-connect-mongo/internal/checkpoint"
	"github.com/jentle/kafka-connect-mongo/internal/coordinator"
	"github.com/jentle/kafka-connect-mongo/internal/envelope"
	"github.com/jentle/kafka-connect-mongo/internal/scheduler"
	"github.com/jentle/kafka-connect-mongo/pkg/config"
	"github.com/jentle/kafka-connect-mongo/pkg/errors"
	"github.com/jentle/kafka-connect-mongo/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "kafka-connect-mongo",
		Short: "Bulk export of MongoDB collections to Kafka",
		Long: `kafka-connect-mongo exports every document of the configured MongoDB
collections as Kafka Connect style envelope messages, one topic per collection,
either as a single run or on a recurring cron schedule.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kafka-connect-mongo v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run <config-file>",
		Short: "Run the export pipeline",
		Long: `Run the export pipeline with the given properties file.

Example:
  kafka-connect-mongo run connect-mongo.properties`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runConnector(args[0])
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runConnector loads configuration and drives the pipeline to completion
func runConnector(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(zap.String("config", configFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, cleanup, err := buildCheckpointStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	coord := coordinator.New(coordinator.Config{
		Connector:   cfg,
		Checkpoints: checkpoints,
		Logger:      log,
	})

	return scheduler.New(cfg.Schedule, coord.Run, log).Start(ctx)
}

// buildCheckpointStore selects the cursor checkpoint backend: a Mongo-backed
// store when checkpoint.collection names a database.collection, otherwise an
// in-memory store that resets every run.
func buildCheckpointStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(), error) {
	if cfg.CheckpointCollection == "" {
		return checkpoint.NewMemoryStore(), func() {}, nil
	}

	namespaces, err := envelope.ParseNamespaces(cfg.CheckpointCollection)
	if err != nil {
		return nil, nil, err
	}
	if len(namespaces) != 1 {
		return nil, nil, errors.New(errors.ErrorTypeConfig,
			"checkpoint.collection must name exactly one database.collection").
			WithDetail("value", cfg.CheckpointCollection)
	}
	ns := namespaces[0]

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("failed to disconnect checkpoint client", zap.Error(err))
		}
	}

	coll := client.Database(ns.Database).Collection(ns.Collection)
	return checkpoint.NewMongoStore(coll), cleanup, nil
}
