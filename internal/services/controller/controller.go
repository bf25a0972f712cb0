package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/LeonardoBeccarini/sensordash/internal/metrics"
	"github.com/LeonardoBeccarini/sensordash/internal/model"
)

var (
	ErrAlreadyStarted = errors.New("controller already started")
	ErrNotStarted     = errors.New("controller not started")
	ErrNotFailed      = errors.New("retry is only allowed after a failure")
)

// Subscriptions is the part of the subscription manager the controller drives.
type Subscriptions interface {
	Open(ctx context.Context, epoch uint64) error
	Retry(ctx context.Context, epoch uint64) error
	Close()
}

// Dashboard is the part of the aggregator the controller drives.
type Dashboard interface {
	Reset(ctx context.Context, epoch uint64) error
	Fail(ctx context.Context, epoch uint64, msg string) error
}

// StateChangeFunc observes a controller transition.
type StateChangeFunc func(old, new State)

type Config struct {
	Subscriptions Subscriptions
	Dashboard     Dashboard
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Controller is the error/retry state machine:
//
//	Idle -> Loading -> Ready
//	           \-------> Failed -> Loading (Retry)
//
// Any transport error moves it to Failed; only the first error of an epoch
// is surfaced. The mutex is never held while calling into the dashboard or
// the subscriptions.
type Controller struct {
	subs      Subscriptions
	dashboard Dashboard
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	state    State
	epoch    uint64
	err      string
	runCtx   context.Context
	onChange []StateChangeFunc
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		subs:      cfg.Subscriptions,
		dashboard: cfg.Dashboard,
		logger:    cfg.Logger.With("component", "controller"),
		metrics:   cfg.Metrics,
	}
}

// OnStateChange registers fn, called after every transition.
func (c *Controller) OnStateChange(fn StateChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Start moves Idle -> Loading and opens every feed. ctx bounds the lifetime
// of the subscriptions, including those reopened by Retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.epoch = 1
	c.err = ""
	c.runCtx = ctx
	epoch := c.epoch
	notify := c.transition(StateLoading)
	c.mu.Unlock()
	notify()

	if err := c.dashboard.Reset(ctx, epoch); err != nil {
		return fmt.Errorf("reset dashboard: %w", err)
	}
	if err := c.subs.Open(ctx, epoch); err != nil {
		return fmt.Errorf("open feeds: %w", err)
	}
	c.logger.Info("started", "epoch", epoch)
	return nil
}

// Retry moves Failed -> Loading: the error is cleared, the dashboard is
// reset (the history window survives) and every subscription is reopened.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFailed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotFailed, state)
	}
	prevEpoch, prevErr := c.epoch, c.err
	c.epoch++
	c.err = ""
	epoch := c.epoch
	runCtx := c.runCtx
	notify := c.transition(StateLoading)
	c.mu.Unlock()
	notify()

	c.logger.Info("retrying", "epoch", epoch)
	if err := c.dashboard.Reset(ctx, epoch); err != nil {
		// Nothing was reopened: the previous failure still stands.
		c.abortRetry(epoch, prevEpoch, prevErr)
		return fmt.Errorf("reset dashboard: %w", err)
	}
	if err := c.subs.Retry(runCtx, epoch); err != nil {
		err = fmt.Errorf("reopen feeds: %w", err)
		if c.abortRetry(epoch, epoch, err.Error()) {
			if ferr := c.dashboard.Fail(runCtx, epoch, err.Error()); ferr != nil {
				c.logger.Error("surface error", "error", ferr)
			}
		}
		return err
	}
	return nil
}

// abortRetry moves back to Failed with epoch and msg, unless something else
// already failed the attempted epoch or moved past it.
func (c *Controller) abortRetry(attempted, epoch uint64, msg string) bool {
	c.mu.Lock()
	if c.epoch != attempted || c.state != StateLoading {
		c.mu.Unlock()
		return false
	}
	c.epoch, c.err = epoch, msg
	notify := c.transition(StateFailed)
	c.mu.Unlock()
	notify()
	c.logger.Warn("retry aborted", "epoch", epoch, "error", msg)
	return true
}

// Loaded is called when the first event of epoch has been merged.
func (c *Controller) Loaded(epoch uint64) {
	c.mu.Lock()
	if c.state != StateLoading || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	notify := c.transition(StateReady)
	c.mu.Unlock()
	notify()
}

// ReportError records a transport failure. The first one of the current
// epoch becomes the surfaced error; later ones are only logged.
func (c *Controller) ReportError(fe model.FeedError) {
	if fe.Kind != model.TransportError {
		return
	}

	c.mu.Lock()
	if c.state == StateIdle || fe.Epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	first := c.err == ""
	if first {
		c.err = fe.Message
	}
	epoch, runCtx := c.epoch, c.runCtx
	notify := c.transition(StateFailed)
	c.mu.Unlock()
	notify()

	if !first {
		c.logger.Debug("suppressed feed error", "feed", fe.Feed.String(), "error", fe.Message)
		return
	}
	c.logger.Warn("dashboard failed", "feed", fe.Feed.String(), "error", fe.Message, "epoch", epoch)
	if err := c.dashboard.Fail(runCtx, epoch, fe.Message); err != nil {
		c.logger.Error("surface error", "error", err)
	}
}

// Stop closes every subscription.
func (c *Controller) Stop() {
	c.subs.Close()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the surfaced error message, empty when none.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// transition must be called with c.mu held; the returned func runs the
// callbacks and must be called after unlocking.
func (c *Controller) transition(next State) func() {
	old := c.state
	c.state = next
	c.metrics.SetControllerState(int(next))
	if old == next {
		return func() {}
	}
	callbacks := append([]StateChangeFunc(nil), c.onChange...)
	return func() {
		for _, fn := range callbacks {
			fn(old, next)
		}
	}
}
