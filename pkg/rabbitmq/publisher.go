package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes on one default topic. Retained publications become
// the value a new subscriber receives first.
type Publisher struct {
	client   mqtt.Client
	topic    string
	retained bool
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPublisher(client mqtt.Client, topic string, retained bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		topic:    topic,
		retained: retained,
		timeout:  defaultOpTimeout,
		logger:   logger,
	}
}

// PublishMessage publishes on the default topic. Strings and byte slices go
// out as they are, anything else is JSON encoded.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishTo(p.topic, message)
}

func (p *Publisher) PublishTo(topic string, message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", topic, err)
		}
		payload = b
	}

	token := p.client.Publish(topic, qosFor(topic), p.retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message published", "topic", topic, "bytes", len(payload))
	return nil
}
