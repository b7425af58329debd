package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
)

// DefaultRetryInterval is the delay before a failed upstream subscription
// is re-established.
const DefaultRetryInterval = 5 * time.Second

// ChannelObserver receives channel events for instrumentation.
type ChannelObserver interface {
	SnapshotPublished(size int)
	ObserversChanged(count int)
	UpstreamFailed()
}

type observer struct {
	fn   func(model.Snapshot)
	seen uint64
}

// Channel keeps one store subscription on the employees collection and
// fans every rebuilt snapshot out to all registered observers.
//
// Observer callbacks run on the delivery goroutine and must not call
// Subscribe.
type Channel struct {
	store         model.RemoteStore
	path          string
	mapper        *Mapper
	retryInterval time.Duration
	metrics       ChannelObserver
	logger        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	connectMu sync.Mutex

	mu         sync.Mutex
	observers  map[uint64]*observer
	nextID     uint64
	upstream   model.Subscription
	generation uint64
	retry      *time.Timer
	closed     bool

	// deliverMu serializes delivery and is always taken before mu; seq,
	// last and lastGen are guarded by it.
	deliverMu sync.Mutex
	seq       uint64
	last      model.Snapshot
	lastGen   uint64
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithRetryInterval sets the delay before resubscribing after an upstream failure.
func WithRetryInterval(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithChannelObserver registers an instrumentation hook.
func WithChannelObserver(o ChannelObserver) ChannelOption {
	return func(c *Channel) { c.metrics = o }
}

// NewChannel creates a Channel over the employees collection of store.
func NewChannel(store model.RemoteStore, mapper *Mapper, logger *logger.Logger, opts ...ChannelOption) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		store:         store,
		path:          model.EmployeesPath,
		mapper:        mapper,
		retryInterval: DefaultRetryInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		observers:     make(map[uint64]*observer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Handle identifies one registered observer.
type Handle struct {
	c    *Channel
	id   uint64
	once sync.Once
}

// Unsubscribe removes the observer. It is idempotent and safe to call after
// the channel was closed.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() { h.c.remove(h.id) })
}

// Subscribe registers fn. The first observer starts the upstream
// subscription; later observers are immediately handed the last published
// snapshot.
func (c *Channel) Subscribe(fn func(model.Snapshot)) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, model.ErrChannelClosed
	}
	c.nextID++
	id := c.nextID
	obs := &observer{fn: fn}
	c.observers[id] = obs
	count := len(c.observers)
	c.mu.Unlock()

	c.observersChanged(count)

	if err := c.connect(); err != nil {
		c.remove(id)
		return nil, err
	}

	c.deliverMu.Lock()
	if c.seq > 0 && obs.seen < c.seq && c.replayable(id) {
		obs.seen = c.seq
		obs.fn(c.last)
	}
	c.deliverMu.Unlock()

	return &Handle{c: c, id: id}, nil
}

// Observers returns the number of registered observers.
func (c *Channel) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// Connected reports whether the upstream subscription is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upstream != nil
}

// Close tears down the upstream subscription and drops all observers.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.observers = make(map[uint64]*observer)
	sub := c.teardownLocked()
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.cancel()
	c.observersChanged(0)
}

// replayable reports whether the last snapshot belongs to the live
// upstream and id is still registered. Called with deliverMu held.
func (c *Channel) replayable(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.observers[id]
	return ok && c.lastGen == c.generation
}

func (c *Channel) remove(id uint64) {
	c.mu.Lock()
	if _, ok := c.observers[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.observers, id)
	count := len(c.observers)

	var sub model.Subscription
	if count == 0 {
		sub = c.teardownLocked()
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		c.logger.Debug("Sync channel: last observer left, upstream closed", "path", c.path)
	}
	c.observersChanged(count)
}

// teardownLocked invalidates the current upstream and pending retries and
// returns the subscription to cancel outside the lock.
func (c *Channel) teardownLocked() model.Subscription {
	c.generation++
	sub := c.upstream
	c.upstream = nil
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	return sub
}

func (c *Channel) connect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.ErrChannelClosed
	}
	if c.upstream != nil || c.retry != nil || len(c.observers) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	sub, err := c.store.Subscribe(c.ctx, c.path,
		func(n model.Node) { c.onSnapshot(gen, n) },
		func(err error) { c.onUpstreamError(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.path, err)
	}

	c.mu.Lock()
	if gen != c.generation || c.closed || len(c.observers) == 0 {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.upstream = sub
	c.mu.Unlock()

	c.logger.Debug("Sync channel: upstream subscribed", "path", c.path)
	return nil
}

func (c *Channel) onSnapshot(gen uint64, n model.Node) {
	snapshot := c.mapper.MapSnapshot(n)
	c.broadcast(&gen, snapshot)
}

func (c *Channel) onUpstreamError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	sub := c.teardownLocked()
	if len(c.observers) > 0 {
		c.retry = time.AfterFunc(c.retryInterval, c.reconnect)
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	c.logger.Warn("Sync channel: upstream subscription failed, publishing empty snapshot",
		"path", c.path,
		"error", err,
		"retry_in", c.retryInterval)
	if c.metrics != nil {
		c.metrics.UpstreamFailed()
	}

	c.broadcast(nil, model.Snapshot{})
}

func (c *Channel) reconnect() {
	c.mu.Lock()
	c.retry = nil
	c.mu.Unlock()

	if err := c.connect(); err != nil {
		c.logger.Error("Sync channel: resubscribe failed", "path", c.path, "error", err)

		c.mu.Lock()
		if !c.closed && c.upstream == nil && c.retry == nil && len(c.observers) > 0 {
			c.retry = time.AfterFunc(c.retryInterval, c.reconnect)
		}
		c.mu.Unlock()
	}
}

// broadcast hands snapshot to every observer. When gen is set, snapshots
// from a superseded upstream are dropped.
func (c *Channel) broadcast(gen *uint64, snapshot model.Snapshot) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed || (gen != nil && *gen != c.generation) {
		c.mu.Unlock()
		return
	}
	targets := make([]*observer, 0, len(c.observers))
	for _, o := range c.observers {
		targets = append(targets, o)
	}
	current := c.generation
	c.mu.Unlock()

	c.seq++
	c.last = snapshot
	c.lastGen = current
	for _, o := range targets {
		o.seen = c.seq
		o.fn(snapshot)
	}

	if c.metrics != nil {
		c.metrics.SnapshotPublished(len(snapshot))
	}
}

func (c *Channel) observersChanged(count int) {
	if c.metrics != nil {
		c.metrics.ObserversChanged(count)
	}
}
