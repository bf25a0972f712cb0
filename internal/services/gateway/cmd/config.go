package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel slog.Level

	// Provider is the feed source: "mqtt" or "influx".
	Provider  string
	FeedsFile string
	FeedPaths string

	HistorySize int
	QueueSize   int

	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string
	// SnapshotTopic, when set, receives every snapshot (retained).
	SnapshotTopic string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	PollInterval time.Duration
	PollLookback time.Duration
	CBFails      int
	CBOpen       time.Duration

	RetryTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins are extra origins allowed to open the websocket stream.
	AllowedOrigins []string
}

func envStr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

// envList splits a comma separated variable, dropping empty items.
func envList(k string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(k), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func loadConfig() Config {
	return Config{
		HTTPAddr: envStr("HTTP_ADDR", ":5009"),
		GRPCAddr: envStr("GRPC_ADDR", ":5010"),
		LogLevel: parseLevel(envStr("LOG_LEVEL", "info")),

		Provider:  strings.ToLower(envStr("PROVIDER", "mqtt")),
		FeedsFile: envStr("FEEDS_FILE", ""),
		FeedPaths: envStr("FEED_PATHS", ""),

		HistorySize: envInt("HISTORY_SIZE", 5),
		QueueSize:   envInt("QUEUE_SIZE", 64),

		MQTTHost:      envStr("MQTT_HOST", "localhost"),
		MQTTPort:      envInt("MQTT_PORT", 1883),
		MQTTUser:      envStr("MQTT_USER", ""),
		MQTTPassword:  envStr("MQTT_PASSWORD", ""),
		MQTTClientID:  envStr("MQTT_CLIENT_ID", "sensordash"),
		SnapshotTopic: envStr("SNAPSHOT_TOPIC", ""),

		InfluxURL:    envStr("INFLUX_URL", "http://influxdb:8086"),
		InfluxToken:  envStr("INFLUX_TOKEN", ""),
		InfluxOrg:    envStr("INFLUX_ORG", "sensordash"),
		InfluxBucket: envStr("INFLUX_BUCKET", "sensors"),
		PollInterval: envDuration("POLL_INTERVAL", 2*time.Second),
		PollLookback: envDuration("POLL_LOOKBACK", time.Hour),
		CBFails:      envInt("CB_FAILS", 3),
		CBOpen:       envDuration("CB_OPEN", 10*time.Second),

		RetryTimeout:    envDuration("RETRY_TIMEOUT", 5*time.Second),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		AllowedOrigins:  envList("ALLOWED_ORIGINS"),
	}
}

// feedPaths resolves the feed map: FEEDS_FILE wins over FEED_PATHS.
func (c Config) feedPaths() (model.FeedPaths, error) {
	if c.FeedsFile == "" {
		return model.ParseFeedPaths(c.FeedPaths)
	}
	f, err := os.Open(c.FeedsFile)
	if err != nil {
		return nil, fmt.Errorf("open feeds file: %w", err)
	}
	defer f.Close()
	return model.LoadFeedPaths(f)
}
