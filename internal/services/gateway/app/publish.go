package app

import (
	"context"
	"log/slog"
)

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	PublishMessage(message interface{}) error
}

// PublishSnapshots forwards every dashboard snapshot to pub until ctx ends
// or the dashboard stops. Publish errors are logged and skipped.
func PublishSnapshots(ctx context.Context, d Dashboard, pub Publisher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	snapshots, cancel := d.Subscribe()
	defer cancel()

	var last uint64
	published := false
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			if published && s.Version == last {
				continue
			}
			if err := pub.PublishMessage(s); err != nil {
				logger.Warn("publish snapshot", "version", s.Version, "error", err)
				continue
			}
			last, published = s.Version, true
		}
	}
}
