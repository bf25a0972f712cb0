package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
	"github.com/LeonardoBeccarini/sensordash/internal/model/messages"
)

// Sink delivers one generated reading to the data source under path.
type Sink interface {
	Emit(ctx context.Context, path string, ev model.FeedEvent) error
}

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	PublishTo(topic string, message interface{}) error
}

// MQTTSink publishes the wire payload on the feed path.
type MQTTSink struct {
	Publisher Publisher
}

func (s MQTTSink) Emit(_ context.Context, path string, ev model.FeedEvent) error {
	payload, err := messages.Encode(ev)
	if err != nil {
		return err
	}
	return s.Publisher.PublishTo(path, payload)
}

// PointWriter is satisfied by influxfeed.Writer.
type PointWriter interface {
	Write(ctx context.Context, path string, ev model.FeedEvent) error
}

// InfluxSink stores each reading as a point.
type InfluxSink struct {
	Writer PointWriter
}

func (s InfluxSink) Emit(ctx context.Context, path string, ev model.FeedEvent) error {
	return s.Writer.Write(ctx, path, ev)
}

// WateringCommand switches watering on, optionally for a limited time.
type WateringCommand struct {
	On       bool   `json:"on"`
	Duration string `json:"duration,omitempty"`
}

type SensorSimulator struct {
	mu        sync.Mutex
	timer     *time.Timer
	paths     model.FeedPaths
	generator *DataGenerator
	sink      Sink
	logger    *slog.Logger
}

func NewSensorSimulator(sink Sink, gen *DataGenerator, paths model.FeedPaths, logger *slog.Logger) *SensorSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SensorSimulator{
		paths:     paths.Clone(),
		generator: gen,
		sink:      sink,
		logger:    logger.With("component", "simulator"),
	}
}

// Tick emits one reading for every configured feed.
func (s *SensorSimulator) Tick(ctx context.Context) error {
	var firstErr error
	for _, feed := range s.paths.Feeds() {
		ev := s.generator.Next(feed)
		if err := s.sink.Emit(ctx, s.paths[feed], ev); err != nil {
			s.logger.Warn("emit failed", "feed", feed.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Debug("emitted", "feed", feed.String(), "path", s.paths[feed])
	}
	return firstErr
}

// Start emits every interval until ctx is cancelled.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case <-ticker.C:
		}
	}
}

// HandleCommand applies a watering command payload. Its signature matches
// the value callback of a feed subscription.
func (s *SensorSimulator) HandleCommand(exists bool, payload []byte) {
	if !exists {
		return
	}
	var cmd WateringCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		s.logger.Warn("invalid watering command", "error", err)
		return
	}
	if err := s.applyTimedWatering(cmd); err != nil {
		s.logger.Warn("invalid watering command", "error", err)
	}
}

func (s *SensorSimulator) applyTimedWatering(cmd WateringCommand) error {
	var d time.Duration
	if cmd.Duration != "" {
		var err error
		if d, err = time.ParseDuration(cmd.Duration); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	prev := s.generator.Watering()
	s.generator.SetWatering(cmd.On)
	s.logger.Info("watering", "on", cmd.On, "for", d)

	if d > 0 {
		s.timer = time.AfterFunc(d, func() {
			s.generator.SetWatering(prev)
			s.logger.Info("watering reverted", "on", prev)
		})
	}
	return nil
}

func (s *SensorSimulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
