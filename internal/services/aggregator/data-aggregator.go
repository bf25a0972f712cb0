package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/LeonardoBeccarini/sensordash/internal/metrics"
	"github.com/LeonardoBeccarini/sensordash/internal/model"
	"github.com/LeonardoBeccarini/sensordash/pkg/history"
)

// ErrStopped is returned by Submit, Fail and Reset once Run has returned.
var ErrStopped = errors.New("aggregator stopped")

const defaultQueueSize = 64

type commandKind uint8

const (
	cmdEvent commandKind = iota
	cmdFail
	cmdReset
)

type command struct {
	kind  commandKind
	event model.FeedEvent
	epoch uint64
	msg   string
}

type Config struct {
	// HistoryCapacity is the temperature window size (history.DefaultCapacity if zero).
	HistoryCapacity int
	// QueueSize is the ingestion channel buffer.
	QueueSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DataAggregatorService owns the canonical DashboardState. Every mutation
// travels through one ingestion channel and is applied by Run, one at a
// time, so the state has a single writer.
type DataAggregatorService struct {
	in      chan command
	stopped chan struct{}

	// owned by the Run goroutine
	state   DashboardState
	history *history.Buffer
	epoch   uint64

	current  atomic.Pointer[DashboardState]
	subs     *broadcaster
	onLoaded func(epoch uint64)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDataAggregatorService(cfg Config) *DataAggregatorService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	d := &DataAggregatorService{
		in:      make(chan command, cfg.QueueSize),
		stopped: make(chan struct{}),
		history: history.New(cfg.HistoryCapacity),
		subs:    newBroadcaster(),
		logger:  cfg.Logger.With("component", "aggregator"),
		metrics: cfg.Metrics,
	}
	d.state = DashboardState{
		TemperatureHistory: d.history.Render(),
		Loading:            true,
	}
	initial := d.state.clone()
	d.current.Store(&initial)
	return d
}

// OnLoaded registers fn to be called from the merge loop whenever an event
// clears the loading flag. Must be set before Run.
func (d *DataAggregatorService) OnLoaded(fn func(epoch uint64)) {
	d.onLoaded = fn
}

// Run applies queued commands until ctx is cancelled. Subscribers' channels
// are closed on return.
func (d *DataAggregatorService) Run(ctx context.Context) {
	defer close(d.stopped)
	defer d.subs.closeAll()

	d.logger.Info("aggregator running")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("aggregator stopped")
			return
		case c := <-d.in:
			d.handle(c)
		}
	}
}

// Submit enqueues a feed event for merging.
func (d *DataAggregatorService) Submit(ctx context.Context, ev model.FeedEvent) error {
	return d.enqueue(ctx, command{kind: cmdEvent, event: ev})
}

// Fail surfaces msg as the dashboard error for epoch. Only the first failure
// of an epoch is kept.
func (d *DataAggregatorService) Fail(ctx context.Context, epoch uint64, msg string) error {
	return d.enqueue(ctx, command{kind: cmdFail, epoch: epoch, msg: msg})
}

// Reset starts a new epoch: the error is cleared and loading is set again.
// Feed values and the history window are kept. Events and failures from
// older epochs are dropped from then on.
func (d *DataAggregatorService) Reset(ctx context.Context, epoch uint64) error {
	return d.enqueue(ctx, command{kind: cmdReset, epoch: epoch})
}

func (d *DataAggregatorService) enqueue(ctx context.Context, c command) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}
	select {
	case d.in <- c:
		return nil
	case <-d.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (d *DataAggregatorService) Snapshot() DashboardState {
	return d.current.Load().clone()
}

// Subscribe returns a channel that receives the current snapshot and then
// every newer one (latest wins for slow readers). cancel releases it.
func (d *DataAggregatorService) Subscribe() (<-chan DashboardState, func()) {
	return d.subs.subscribe(d.Snapshot())
}

func (d *DataAggregatorService) handle(c command) {
	switch c.kind {
	case cmdEvent:
		if c.event.Epoch < d.epoch {
			d.metrics.Discarded(c.event.Feed.String(), "stale_epoch")
			d.logger.Debug("dropping event from closed subscription",
				"feed", c.event.Feed.String(), "epoch", c.event.Epoch, "current", d.epoch)
			return
		}
		d.Apply(c.event)
	case cmdFail:
		if c.epoch < d.epoch || d.state.HasError() {
			return
		}
		next := d.state.clone()
		next.Error = c.msg
		d.commit(next)
		d.logger.Warn("dashboard error", "epoch", c.epoch, "error", c.msg)
	case cmdReset:
		d.epoch = c.epoch
		next := d.state.clone()
		next.Error = ""
		next.Loading = true
		d.commit(next)
		d.logger.Info("dashboard reset", "epoch", c.epoch, "history", d.history.Len())
	}
}

// Apply merges one event into the current state and publishes the result.
// It is called by Run; calling it directly is only valid while Run is not
// running (tests, replay).
func (d *DataAggregatorService) Apply(ev model.FeedEvent) DashboardState {
	next := d.state.clone()

	switch ev.Feed {
	case model.Temperature:
		if ev.Reading == nil {
			return d.reject(ev)
		}
		v := ev.Reading.Value
		next.Temperature = &v
		d.history.Push(v)
		next.TemperatureHistory = d.history.Render()
		ts := ev.Timestamp
		next.LastUpdateTime = &ts
	case model.Presence:
		if ev.Presence == nil {
			return d.reject(ev)
		}
		p := ev.Presence.Detected
		next.Presence = &p
		ts := ev.Timestamp
		next.LastUpdateTime = &ts
	case model.SoilMoisture:
		if ev.Reading == nil {
			return d.reject(ev)
		}
		v := ev.Reading.Value
		next.SoilMoisture = &v
	case model.Humidity:
		if ev.Reading == nil {
			return d.reject(ev)
		}
		v := ev.Reading.Value
		next.Humidity = &v
	default:
		return d.reject(ev)
	}

	loaded := false
	if next.Loading && !next.HasError() {
		next.Loading = false
		loaded = true
	}
	committed := d.commit(next)
	d.metrics.Applied(ev.Feed.String())

	if loaded && d.onLoaded != nil {
		d.onLoaded(ev.Epoch)
	}
	return committed
}

func (d *DataAggregatorService) reject(ev model.FeedEvent) DashboardState {
	d.metrics.Discarded(ev.Feed.String(), "empty")
	d.logger.Debug("event without payload", "feed", ev.Feed.String())
	return d.state.clone()
}

func (d *DataAggregatorService) commit(next DashboardState) DashboardState {
	next.Version = d.state.Version + 1
	d.state = next
	published := next.clone()
	d.current.Store(&published)
	d.subs.publish(published.clone())
	d.metrics.SetSnapshotVersion(next.Version)
	return next.clone()
}
