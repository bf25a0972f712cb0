package influxfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const defaultInterval = 2 * time.Second

type Config struct {
	Querier  Querier
	Interval time.Duration
	// Query timeout per poll (Interval if zero).
	Timeout time.Duration

	// Breaker settings: the breaker opens after BreakerFails consecutive
	// failed polls and stays open for BreakerOpen.
	BreakerFails int
	BreakerOpen  time.Duration

	Logger *slog.Logger
}

// Poller turns periodic "latest point" queries into value subscriptions.
// A callback fires only when the latest point changes.
type Poller struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewPoller(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.BreakerFails <= 0 {
		cfg.BreakerFails = 3
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "influx-poller"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *Poller) breaker(path string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[path]; ok {
		return cb
	}
	fails := uint32(p.cfg.BreakerFails)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx:" + path,
		Timeout: p.cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	p.breakers[path] = cb
	return cb
}

// BreakerState reports the breaker of path, closed if never polled.
func (p *Poller) BreakerState(path string) gobreaker.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[path]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// Subscribe polls path until cancel is called or ctx ends. The first poll
// runs immediately. A failure is reported once per failure streak.
func (p *Poller) Subscribe(
	ctx context.Context,
	path string,
	onValue func(exists bool, payload []byte),
	onError func(err error),
) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &watch{
		path:    path,
		poller:  p,
		cb:      p.breaker(path),
		onValue: onValue,
		onError: onError,
		done:    make(chan struct{}),
	}
	go w.run(ctx)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-w.done
		})
	}, nil
}

type watch struct {
	path    string
	poller  *Poller
	cb      *gobreaker.CircuitBreaker
	onValue func(bool, []byte)
	onError func(error)
	done    chan struct{}

	polled  bool
	exists  bool
	last    time.Time
	failing bool
}

func (w *watch) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.poller.cfg.Interval)
	defer ticker.Stop()

	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *watch) poll(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, w.poller.cfg.Timeout)
	defer cancel()

	type result struct {
		row   Row
		found bool
	}
	res, err := w.cb.Execute(func() (any, error) {
		row, found, err := w.poller.cfg.Querier.Latest(qctx, w.path)
		if err != nil {
			return nil, err
		}
		return result{row: row, found: found}, nil
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if !w.failing {
			w.failing = true
			w.poller.logger.Warn("poll failed", "path", w.path, "error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
		return
	}
	w.failing = false

	r := res.(result)
	if !r.found {
		if !w.polled || w.exists {
			w.onValue(false, nil)
		}
		w.polled, w.exists = true, false
		return
	}
	if w.polled && w.exists && r.row.Time.Equal(w.last) {
		return
	}
	w.polled, w.exists, w.last = true, true, r.row.Time

	payload, err := rowPayload(r.row)
	if err != nil {
		w.poller.logger.Debug("unencodable row", "path", w.path, "error", err)
		return
	}
	w.onValue(true, payload)
}

// rowPayload renders a row as the wire payload a pushed update would carry.
func rowPayload(row Row) ([]byte, error) {
	out := map[string]any{"timestamp": row.Time.UnixMilli()}
	if v, ok := row.Fields[FieldStatus]; ok {
		out[FieldStatus] = v
	}
	if v, ok := row.Fields[FieldValue]; ok {
		if f, ok := toFloat(v); ok {
			out[FieldValue] = f
		} else {
			out[FieldValue] = v
		}
	}
	return json.Marshal(out)
}
