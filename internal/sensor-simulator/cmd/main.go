package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/sensordash/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sensordash/pkg/influxfeed"
	"github.com/LeonardoBeccarini/sensordash/pkg/rabbitmq"
)

func main() {
	sink := flag.String("sink", "mqtt", "where readings go: mqtt or influx")
	clientID := flag.String("client-id", "sensor-sim", "MQTT client ID prefix")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	feeds := flag.String("feeds", "", "feed path overrides, e.g. temperature=sensor/temperature")
	commandTopic := flag.String("command-topic", "sensor/watering", "MQTT topic for watering commands (empty to disable)")
	decay := flag.Float64("soil-decay", 0.001, "soil moisture lost per minute when not watering, in [0..1]")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	mqttHost := flag.String("mqtt-host", "localhost", "MQTT broker host")
	mqttPort := flag.Int("mqtt-port", 1883, "MQTT broker port")
	influxURL := flag.String("influx-url", "http://localhost:8086", "InfluxDB URL")
	influxOrg := flag.String("influx-org", "sensordash", "InfluxDB org")
	influxBucket := flag.String("influx-bucket", "sensors", "InfluxDB bucket")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	paths, err := model.ParseFeedPaths(*feeds)
	if err != nil {
		logger.Error("invalid -feeds", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	generator := sensorSimulator.NewDataGenerator(*decay, *seed)

	var out sensorSimulator.Sink
	var mqttCfg *rabbitmq.RabbitMQConfig
	if *sink == "mqtt" || *commandTopic != "" {
		mqttCfg = &rabbitmq.RabbitMQConfig{
			Host:     *mqttHost,
			Port:     *mqttPort,
			User:     os.Getenv("MQTT_USER"),
			Password: os.Getenv("MQTT_PASSWORD"),
			ClientID: *clientID,
			Logger:   logger,
		}
	}

	var consumer *rabbitmq.FeedConsumer
	if mqttCfg != nil {
		consumer = rabbitmq.NewFeedConsumer(logger)
		mqttCfg.OnConnectionLost = consumer.ConnectionLost
		mqttCfg.OnReconnect = consumer.Resubscribe
		client, err := rabbitmq.NewRabbitMQConn(mqttCfg, ctx)
		if err != nil {
			logger.Error("mqtt connect", "error", err)
			os.Exit(1)
		}
		consumer.SetClient(client)
		if *sink == "mqtt" {
			out = sensorSimulator.MQTTSink{Publisher: rabbitmq.NewPublisher(client, "", true, logger)}
		}
	}

	switch *sink {
	case "mqtt":
	case "influx":
		influx := influxdb2.NewClient(*influxURL, os.Getenv("INFLUX_TOKEN"))
		defer influx.Close()
		out = sensorSimulator.InfluxSink{
			Writer: influxfeed.NewWriter(influx.WriteAPIBlocking(*influxOrg, *influxBucket), logger),
		}
	default:
		logger.Error("unknown sink", "sink", *sink)
		os.Exit(2)
	}

	sim := sensorSimulator.NewSensorSimulator(out, generator, paths, logger)

	if consumer != nil && *commandTopic != "" {
		stop, err := consumer.Subscribe(ctx, *commandTopic, sim.HandleCommand, func(err error) {
			logger.Warn("command subscription", "error", err)
		})
		if err != nil {
			logger.Warn("watering commands disabled", "error", err)
		} else {
			defer stop()
		}
	}

	logger.Info("simulator started", "sink", *sink, "interval", interval.String())
	sim.Start(ctx, *interval)
}
