package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sensordash/internal/metrics"
	"github.com/LeonardoBeccarini/sensordash/internal/model"
	"github.com/LeonardoBeccarini/sensordash/internal/model/messages"
)

var (
	ErrAlreadyOpen = errors.New("subscriptions already open")
	ErrNoFeeds     = errors.New("no feed paths configured")
)

type Config struct {
	Provider Provider
	Paths    model.FeedPaths
	Events   EventSink
	Errors   ErrorSink

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now stamps payloads that carry no timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Manager holds one live subscription per configured feed.
type Manager struct {
	provider Provider
	paths    model.FeedPaths
	events   EventSink
	errors   ErrorSink
	now      clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	subs  map[model.FeedID]*feedSubscription
	opens map[model.FeedID]int
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Errors == nil {
		cfg.Errors = ErrorSinkFunc(func(model.FeedError) {})
	}
	return &Manager{
		provider: cfg.Provider,
		paths:    cfg.Paths.Clone(),
		events:   cfg.Events,
		errors:   cfg.Errors,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "subscription"),
		metrics:  cfg.Metrics,
		subs:     make(map[model.FeedID]*feedSubscription),
		opens:    make(map[model.FeedID]int),
	}
}

// Open subscribes to every configured feed path. Events are tagged with
// epoch. A feed whose subscription cannot be established is reported to the
// error sink as a transport error; the other feeds are still opened.
func (m *Manager) Open(ctx context.Context, epoch uint64) error {
	if len(m.paths) == 0 {
		return ErrNoFeeds
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) > 0 {
		return ErrAlreadyOpen
	}

	for _, feed := range m.paths.Feeds() {
		sub := m.openFeed(ctx, feed, m.paths[feed], epoch)
		m.subs[feed] = sub
		m.opens[feed]++
	}
	m.logger.Info("feeds opened", "epoch", epoch, "feeds", len(m.subs))
	return nil
}

func (m *Manager) openFeed(ctx context.Context, feed model.FeedID, path string, epoch uint64) *feedSubscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &feedSubscription{feed: feed, path: path, epoch: epoch, ctx: subCtx, cancel: cancel}

	stop, err := m.provider.Subscribe(subCtx, path,
		func(exists bool, payload []byte) { m.deliver(sub, exists, payload) },
		func(err error) { m.fail(sub, err) },
	)
	if err != nil {
		m.logger.Error("subscribe failed", "feed", feed.String(), "path", path, "error", err)
		m.fail(sub, err)
		return sub
	}

	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	m.metrics.SubscriptionOpen(feed.String(), true)
	m.logger.Debug("subscribed", "feed", feed.String(), "path", path, "epoch", epoch)
	return sub
}

func (m *Manager) deliver(sub *feedSubscription, exists bool, payload []byte) {
	if !sub.enter() {
		m.metrics.Discarded(sub.feed.String(), "closed")
		return
	}
	defer sub.leave()

	if !exists {
		m.metrics.Discarded(sub.feed.String(), "absent")
		return
	}
	ev, err := messages.Decode(sub.feed, payload, m.now())
	if err != nil {
		m.metrics.Discarded(sub.feed.String(), "malformed")
		m.logger.Debug("discarding payload", "feed", sub.feed.String(), "error", err)
		return
	}
	if err := m.events.Submit(sub.ctx, ev.WithEpoch(sub.epoch)); err != nil {
		m.metrics.Discarded(sub.feed.String(), "cancelled")
		m.logger.Debug("event not delivered", "feed", sub.feed.String(), "error", err)
	}
}

func (m *Manager) fail(sub *feedSubscription, err error) {
	if !sub.enter() {
		return
	}
	defer sub.leave()

	fe := model.NewTransportError(sub.feed, sub.epoch, err)
	m.metrics.FeedError(sub.feed.String())
	m.logger.Warn("feed error", "feed", sub.feed.String(), "path", sub.path, "error", fe.Message)
	m.errors.ReportError(fe)
}

// Close tears down every open subscription. It is idempotent, and once it
// returns no callback from the closed subscriptions is running or will be
// delivered.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[model.FeedID]*feedSubscription)
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *feedSubscription) {
			defer wg.Done()
			s.close()
			m.metrics.SubscriptionOpen(s.feed.String(), false)
		}(sub)
	}
	wg.Wait()
	m.logger.Info("feeds closed", "feeds", len(subs))
}

// Retry closes every subscription and opens them again on the same
// paths under a new epoch.
func (m *Manager) Retry(ctx context.Context, epoch uint64) error {
	m.Close()
	return m.Open(ctx, epoch)
}

// Opens reports how many times feed has been subscribed.
func (m *Manager) Opens(feed model.FeedID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[feed]
}

// Active reports the number of open subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type feedSubscription struct {
	feed   model.FeedID
	path   string
	epoch  uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	stop     func()
	inflight sync.WaitGroup
}

func (s *feedSubscription) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *feedSubscription) leave() { s.inflight.Done() }

func (s *feedSubscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stop
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}
	s.inflight.Wait()
}
