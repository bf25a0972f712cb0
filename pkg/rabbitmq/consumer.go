package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sensordash/pkg/dedup"
)

var (
	ErrNoClient       = errors.New("mqtt client not set")
	ErrNotConnected   = errors.New("mqtt client not connected")
	ErrConnectionLost = errors.New("mqtt connection lost")
	ErrTimeout        = errors.New("mqtt operation timed out")
)

const defaultOpTimeout = 5 * time.Second

func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "sensor/") || strings.HasPrefix(t, "dashboard/") {
		return 1
	}
	return 0
}

type topicSub struct {
	onValue func(exists bool, payload []byte)
	onError func(err error)

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// enter reports whether sub still accepts callbacks; a true result must be
// paired with leave.
func (s *topicSub) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *topicSub) leave() { s.inflight.Done() }

// close stops new callbacks and waits for the running ones.
func (s *topicSub) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// FeedConsumer exposes MQTT topics as value subscriptions: each topic holds
// the latest value of one feed (retained on the broker), an empty payload
// means the value was cleared. A topic has at most one subscriber.
type FeedConsumer struct {
	client  mqtt.Client
	logger  *slog.Logger
	deduper *dedup.Deduper
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]*topicSub
}

func NewFeedConsumer(logger *slog.Logger) *FeedConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedConsumer{
		logger:  logger.With("component", "mqtt-consumer"),
		deduper: dedup.New(time.Minute, 1024),
		timeout: defaultOpTimeout,
		subs:    make(map[string]*topicSub),
	}
}

// SetClient sets the connected client. The consumer is usually created
// before the client so that ConnectionLost can be wired into its options.
func (c *FeedConsumer) SetClient(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

// Subscribe starts delivering the values published on topic. The returned
// cancel unsubscribes; after it returns no more callbacks are made.
func (c *FeedConsumer) Subscribe(
	ctx context.Context,
	topic string,
	onValue func(exists bool, payload []byte),
	onError func(err error),
) (func(), error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNoClient
	}
	if !client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}

	sub := &topicSub{onValue: onValue, onError: onError}
	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()

	if err := c.wait(ctx, client.Subscribe(topic, qosFor(topic), c.handler(topic, sub))); err != nil {
		c.release(topic, sub)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("subscribed", "topic", topic)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.release(topic, sub)
			if !client.IsConnectionOpen() {
				return
			}
			if !client.Unsubscribe(topic).WaitTimeout(c.timeout) {
				c.logger.Warn("unsubscribe timed out", "topic", topic)
			}
		})
	}, nil
}

func (c *FeedConsumer) handler(topic string, sub *topicSub) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.dispatch(topic, sub, msg)
	}
}

func (c *FeedConsumer) dispatch(topic string, sub *topicSub, msg mqtt.Message) {
	if !sub.enter() {
		return
	}
	defer sub.leave()

	// QoS 1 may redeliver; a duplicate carries the same bytes on the same topic.
	key := topic + "|" + string(msg.Payload())
	first := c.deduper.ShouldProcess(key)
	if msg.Duplicate() && !first {
		c.logger.Debug("dropping redelivery", "topic", topic, "id", msg.MessageID())
		return
	}

	payload := msg.Payload()
	sub.onValue(len(payload) > 0, payload)
}

// ConnectionLost reports err to every active subscription.
func (c *FeedConsumer) ConnectionLost(err error) {
	wrapped := fmt.Errorf("%w: %v", ErrConnectionLost, err)
	for _, s := range c.snapshot() {
		s.sub.fail(wrapped)
	}
}

// Resubscribe renews every active subscription on the broker. Sessions are
// clean, so after a reconnect the broker no longer knows our topics.
func (c *FeedConsumer) Resubscribe() {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}

	for _, s := range c.snapshot() {
		if !s.sub.enter() {
			continue
		}
		token := client.Subscribe(s.topic, qosFor(s.topic), c.handler(s.topic, s.sub))
		if err := c.wait(context.Background(), token); err != nil {
			c.logger.Warn("resubscribe failed", "topic", s.topic, "error", err)
			if s.sub.onError != nil {
				s.sub.onError(fmt.Errorf("resubscribe %s: %w", s.topic, err))
			}
		} else {
			c.logger.Info("resubscribed", "topic", s.topic)
		}
		s.sub.leave()
	}
}

func (s *topicSub) fail(err error) {
	if s.onError == nil || !s.enter() {
		return
	}
	defer s.leave()
	s.onError(err)
}

type activeSub struct {
	topic string
	sub   *topicSub
}

func (c *FeedConsumer) snapshot() []activeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]activeSub, 0, len(c.subs))
	for topic, s := range c.subs {
		subs = append(subs, activeSub{topic: topic, sub: s})
	}
	return subs
}

func (c *FeedConsumer) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// release detaches sub; once it returns no callback of sub is running and
// none will start.
func (c *FeedConsumer) release(topic string, sub *topicSub) {
	c.mu.Lock()
	if c.subs[topic] == sub {
		delete(c.subs, topic)
	}
	c.mu.Unlock()
	sub.close()
}

func (c *FeedConsumer) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
