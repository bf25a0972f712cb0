package influxfeed

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

// ReadingToPoint maps one feed event to a point of Measurement, tagged with
// its path. Presence is stored as a bool status field.
func ReadingToPoint(path string, ev model.FeedEvent) (*write.Point, error) {
	fields := map[string]interface{}{}
	switch {
	case ev.Presence != nil:
		fields[FieldStatus] = ev.Presence.Detected
	case ev.Reading != nil:
		fields[FieldValue] = ev.Reading.Value
	default:
		return nil, fmt.Errorf("event for %s carries no value", ev.Feed)
	}
	tags := map[string]string{
		PathTag: path,
		"feed":  ev.Feed.String(),
	}
	return influxdb2.NewPoint(Measurement, tags, fields, ev.Timestamp), nil
}

// Writer writes feed events synchronously.
type Writer struct {
	api    api.WriteAPIBlocking
	logger *slog.Logger
}

func NewWriter(w api.WriteAPIBlocking, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{api: w, logger: logger}
}

func (w *Writer) Write(ctx context.Context, path string, ev model.FeedEvent) error {
	p, err := ReadingToPoint(path, ev)
	if err != nil {
		return err
	}
	if err := w.api.WritePoint(ctx, p); err != nil {
		w.logger.Warn("influx write error", "path", path, "error", err)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
