package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360/entitysynth/component"
	"github.com/c360/entitysynth/config"
	"github.com/c360/entitysynth/engine"
	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/ingest"
	"github.com/c360/entitysynth/metric"
	"github.com/c360/entitysynth/store"
	"github.com/c360/entitysynth/store/memstore"
	"github.com/c360/entitysynth/store/natsstore"
	"github.com/c360/entitysynth/sweeper"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synthesis pipeline",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "synthd.yaml", "path to the service config file")

	return cmd
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connectNATS(cfg.NATS)
	if err != nil {
		return err
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return err
	}

	registry := metric.NewRegistry()

	entities, relationships, err := openStores(ctx, cfg.Store, js)
	if err != nil {
		return err
	}

	publisher := engine.NewNATSPublisher(conn, cfg.Subjects)

	eng, err := engine.New(cfg.Engine, entities, relationships, publisher, registry)
	if err != nil {
		return err
	}

	swp, err := sweeper.New(entities, relationships, cfg.Sweeper, registry,
		func(ctx context.Context, e *entity.Entity) {
			if err := publisher.PublishEntityDeletion(ctx, e.ToRecord(nil, nil)); err != nil {
				logger.Warn("Failed to publish entity deletion", "guid", e.GUID, "error", err)
			}
		})
	if err != nil {
		return err
	}

	consumer, err := ingest.New(cfg.Ingest, js, eng, registry)
	if err != nil {
		return err
	}

	var metricServer *metric.Server
	if cfg.Metrics.Enabled {
		metricServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := metricServer.Start(); err != nil {
			return err
		}
		logger.Info("Metrics server started", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	// The consumer starts last so the engine is accepting work before
	// the first delivery; shutdown runs the same order in reverse.
	pipeline := []component.Lifecycle{eng, swp, consumer}
	started := 0

	for _, c := range pipeline {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	for _, c := range pipeline {
		if err := c.Start(ctx); err != nil {
			shutdown(pipeline[:started], logger)
			return err
		}
		started++
		logger.Info("Component started", "name", c.Meta().Name)
	}

	logger.Info("synthd running",
		"store", cfg.Store.Backend,
		"rule_dir", cfg.Engine.RuleDir,
		"stream", cfg.Ingest.Stream)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdown(pipeline[:started], logger)
	if metricServer != nil {
		if err := metricServer.Stop(shutdownTimeout); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	return nil
}

// shutdown stops components in reverse start order so no producer
// outlives its consumer.
func shutdown(started []component.Lifecycle, logger *slog.Logger) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := c.Stop(shutdownTimeout); err != nil {
			logger.Warn("Component stop failed", "name", c.Meta().Name, "error", err)
		} else {
			logger.Info("Component stopped", "name", c.Meta().Name)
		}
	}
}

func connectNATS(cfg config.NATS) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Credentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.Credentials))
	}
	return nats.Connect(cfg.URL, opts...)
}

func openStores(ctx context.Context, cfg config.Store, js jetstream.JetStream) (store.EntityStore, store.RelationshipStore, error) {
	switch cfg.Backend {
	case config.StoreNATS:
		entityBucket, relationshipBucket, err := natsstore.EnsureBuckets(ctx, js)
		if err != nil {
			return nil, nil, err
		}
		opts := cfg.Options()
		return natsstore.NewEntityStore(entityBucket, opts),
			natsstore.NewRelationshipStore(relationshipBucket, opts), nil
	default:
		return memstore.NewEntityStore(), memstore.NewRelationshipStore(), nil
	}
}
