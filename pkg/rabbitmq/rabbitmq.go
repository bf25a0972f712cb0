package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// ClientID is a prefix; a random suffix keeps replicas from kicking
	// each other off the broker.
	ClientID string

	// MaxElapsed bounds the connect retries (10s if zero).
	MaxElapsed time.Duration
	MaxRetries int

	// OnConnectionLost is called when an established connection drops.
	OnConnectionLost func(err error)
	// OnReconnect is called after the client reconnected on its own.
	OnReconnect func()

	Logger *slog.Logger
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "sensordash"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func NewRabbitMQConn(cfg *RabbitMQConfig, ctx context.Context) (mqtt.Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	id := clientID(cfg.ClientID)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(id)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", connAddr, "error", err)
		if cfg.OnConnectionLost != nil {
			cfg.OnConnectionLost(err)
		}
	})
	var connected atomic.Bool
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if connected.CompareAndSwap(false, true) {
			return
		}
		logger.Info("mqtt reconnected", "broker", connAddr)
		if cfg.OnReconnect != nil {
			cfg.OnReconnect()
		}
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if cfg.MaxElapsed > 0 {
		bo.MaxElapsedTime = cfg.MaxElapsed
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("failed to connect to mqtt broker", "broker", connAddr, "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	logger.Info("connected to mqtt broker", "broker", connAddr, "client_id", id)

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(client, logger)
	}()

	return client, nil
}

func CloseRabbitMQConn(client mqtt.Client, logger *slog.Logger) {
	if client.IsConnected() {
		client.Disconnect(250)
		if logger != nil {
			logger.Info("mqtt connection closed")
		}
	}
}
