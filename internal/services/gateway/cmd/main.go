package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sensordash/internal/metrics"
	"github.com/LeonardoBeccarini/sensordash/internal/model"
	"github.com/LeonardoBeccarini/sensordash/internal/services/aggregator"
	"github.com/LeonardoBeccarini/sensordash/internal/services/controller"
	"github.com/LeonardoBeccarini/sensordash/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/sensordash/internal/services/subscription"
	"github.com/LeonardoBeccarini/sensordash/pkg/influxfeed"
	"github.com/LeonardoBeccarini/sensordash/pkg/rabbitmq"
)

func main() {
	cfg := loadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := cfg.feedPaths()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	provider, deps, snapshots, err := buildProvider(ctx, cfg, paths, logger)
	if err != nil {
		return err
	}

	agg := aggregator.NewDataAggregatorService(aggregator.Config{
		HistoryCapacity: cfg.HistorySize,
		QueueSize:       cfg.QueueSize,
		Logger:          logger,
		Metrics:         m,
	})

	var ctl *controller.Controller
	mgr := subscription.NewManager(subscription.Config{
		Provider: provider,
		Paths:    paths,
		Events:   agg,
		Errors:   subscription.ErrorSinkFunc(func(fe model.FeedError) { ctl.ReportError(fe) }),
		Logger:   logger,
		Metrics:  m,
	})
	ctl = controller.New(controller.Config{
		Subscriptions: mgr,
		Dashboard:     agg,
		Logger:        logger,
		Metrics:       m,
	})
	agg.OnLoaded(ctl.Loaded)

	healthSrv, follow := app.NewHealthServer(ctl.State())
	ctl.OnStateChange(follow)

	aggDone := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(aggDone)
	}()

	if snapshots != nil {
		go app.PublishSnapshots(ctx, agg, snapshots, logger)
	}

	if err := ctl.Start(ctx); err != nil {
		return err
	}
	defer ctl.Stop()

	gw := app.NewGateway(app.Config{
		Dashboard:      agg,
		Controller:     ctl,
		Dependencies:   deps,
		Gatherer:       reg,
		RetryTimeout:   cfg.RetryTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: gw.Routes()}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
		stop()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	<-aggDone
	return err
}

// buildProvider connects the configured feed source. It also returns the
// dependency checks for /healthz and, for MQTT with SNAPSHOT_TOPIC set, a
// snapshot publisher.
func buildProvider(ctx context.Context, cfg Config, paths model.FeedPaths, logger *slog.Logger) (subscription.Provider, []app.Dependency, app.Publisher, error) {
	switch cfg.Provider {
	case "mqtt":
		consumer := rabbitmq.NewFeedConsumer(logger)
		client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:             cfg.MQTTHost,
			Port:             cfg.MQTTPort,
			User:             cfg.MQTTUser,
			Password:         cfg.MQTTPassword,
			ClientID:         cfg.MQTTClientID,
			OnConnectionLost: consumer.ConnectionLost,
			OnReconnect:      consumer.Resubscribe,
			Logger:           logger,
		}, ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		consumer.SetClient(client)

		deps := []app.Dependency{{Name: "mqtt", OK: client.IsConnectionOpen}}
		var pub app.Publisher
		if cfg.SnapshotTopic != "" {
			pub = rabbitmq.NewPublisher(client, cfg.SnapshotTopic, true, logger)
		}
		return consumer, deps, pub, nil

	case "influx":
		client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		go func() {
			<-ctx.Done()
			client.Close()
		}()
		poller := influxfeed.NewPoller(influxfeed.Config{
			Querier:      influxfeed.NewQuerier(client, cfg.InfluxOrg, cfg.InfluxBucket, cfg.PollLookback),
			Interval:     cfg.PollInterval,
			BreakerFails: cfg.CBFails,
			BreakerOpen:  cfg.CBOpen,
			Logger:       logger,
		})
		deps := []app.Dependency{{Name: "influx", OK: func() bool {
			for _, f := range paths.Feeds() {
				if poller.BreakerState(paths[f]) == gobreaker.StateOpen {
					return false
				}
			}
			return true
		}}}
		return poller, deps, nil, nil

	default:
		return nil, nil, nil, errors.New("PROVIDER must be mqtt or influx")
	}
}
