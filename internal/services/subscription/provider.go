package subscription

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

// Provider is the real-time data source. Subscribe starts delivering change
// notifications for path until cancel is called: onValue for every change
// (exists is false when the path holds no data) and onError for transport
// failures. Notifications for one path are delivered sequentially. cancel
// must not return while a callback of that subscription is still running
// inside the provider.
type Provider interface {
	Subscribe(
		ctx context.Context,
		path string,
		onValue func(exists bool, payload []byte),
		onError func(err error),
	) (cancel func(), err error)
}

// EventSink receives decoded feed events (the aggregator).
type EventSink interface {
	Submit(ctx context.Context, ev model.FeedEvent) error
}

// ErrorSink receives transport failures (the error/retry controller).
type ErrorSink interface {
	ReportError(fe model.FeedError)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(fe model.FeedError)

func (f ErrorSinkFunc) ReportError(fe model.FeedError) { f(fe) }

type clock func() time.Time
