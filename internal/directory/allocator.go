package directory

import (
	"context"
	"fmt"

	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
)

// Strategy selects how the allocator updates the shared counter.
type Strategy string

const (
	// StrategyOptimistic uses compare-and-set and retries on conflict, so
	// concurrent allocations never share an id.
	StrategyOptimistic Strategy = "optimistic"
	// StrategyReadThenWrite reads the counter and writes it back without a
	// condition. Concurrent allocations may receive the same id.
	StrategyReadThenWrite Strategy = "read-then-write"
)

// DefaultMaxRetries bounds optimistic allocation attempts.
const DefaultMaxRetries = 16

// AllocatorObserver receives allocator events for instrumentation.
type AllocatorObserver interface {
	AllocationRetried()
}

// Allocator hands out employee identifiers from the counter stored at
// model.CounterPath.
type Allocator struct {
	store      model.RemoteStore
	path       string
	strategy   Strategy
	maxRetries int
	observer   AllocatorObserver
	logger     *logger.Logger
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithStrategy sets the counter update strategy.
func WithStrategy(s Strategy) AllocatorOption {
	return func(a *Allocator) {
		if s != "" {
			a.strategy = s
		}
	}
}

// WithMaxRetries bounds optimistic retries.
func WithMaxRetries(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.maxRetries = n
		}
	}
}

// WithAllocatorObserver registers an instrumentation hook.
func WithAllocatorObserver(o AllocatorObserver) AllocatorOption {
	return func(a *Allocator) { a.observer = o }
}

// NewAllocator creates an Allocator over store.
func NewAllocator(store model.RemoteStore, logger *logger.Logger, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:      store,
		path:       model.CounterPath,
		strategy:   StrategyOptimistic,
		maxRetries: DefaultMaxRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyOptimistic, StrategyReadThenWrite:
		return Strategy(s), nil
	case "":
		return StrategyOptimistic, nil
	default:
		return "", fmt.Errorf("unknown allocator strategy %q", s)
	}
}

// Strategy returns the configured strategy.
func (a *Allocator) Strategy() Strategy {
	return a.strategy
}

// Next reserves the next identifier. An absent counter means an empty
// directory and yields 0.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	id, _, err := a.update(ctx, func(cur int64, present bool) (int64, bool) {
		return cur + 1, true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate identifier: %w", err)
	}

	a.logger.Debug("Allocator: identifier reserved", "id", id, "strategy", a.strategy)
	return id, nil
}

// Release decrements the counter after the record id was removed. Nothing
// is written when the counter is absent. The new value is not checked
// against the records that remain.
func (a *Allocator) Release(ctx context.Context, id int64) error {
	prev, wrote, err := a.update(ctx, func(cur int64, present bool) (int64, bool) {
		return cur - 1, present
	})
	if err != nil {
		return fmt.Errorf("failed to release identifier %d: %w", id, err)
	}

	if wrote && prev-1 < 0 {
		a.logger.Warn("Allocator: counter dropped below zero", "released_id", id, "counter", prev-1)
	}
	return nil
}

// Reset sets the counter back to 0.
func (a *Allocator) Reset(ctx context.Context) error {
	return a.Set(ctx, 0)
}

// Set overwrites the counter with next.
func (a *Allocator) Set(ctx context.Context, next int64) error {
	if err := a.store.Set(ctx, a.path, next); err != nil {
		return fmt.Errorf("failed to write identifier counter: %w", err)
	}
	return nil
}

// Current returns the stored counter, 0 when absent.
func (a *Allocator) Current(ctx context.Context) (int64, error) {
	cur, _, err := a.read(ctx)
	return cur, err
}

func (a *Allocator) read(ctx context.Context) (int64, bool, error) {
	v, ok, err := a.store.Get(ctx, a.path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read identifier counter: %w", err)
	}
	if !ok {
		return 0, false, nil
	}

	cur, isInt := model.AsInt64(v)
	if !isInt {
		return 0, false, fmt.Errorf("%w: %v", model.ErrCounterCorrupt, v)
	}
	return cur, true, nil
}

// update reads the counter, applies next and writes the result back
// according to the strategy. It returns the value read and whether a
// write happened.
func (a *Allocator) update(ctx context.Context, next func(cur int64, present bool) (int64, bool)) (int64, bool, error) {
	if a.strategy == StrategyReadThenWrite {
		cur, present, err := a.read(ctx)
		if err != nil {
			return 0, false, err
		}
		val, write := next(cur, present)
		if !write {
			return cur, false, nil
		}
		if err := a.store.Set(ctx, a.path, val); err != nil {
			return 0, false, fmt.Errorf("failed to write identifier counter: %w", err)
		}
		return cur, true, nil
	}

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		cur, present, err := a.read(ctx)
		if err != nil {
			return 0, false, err
		}
		val, write := next(cur, present)
		if !write {
			return cur, false, nil
		}

		var expected *int64
		if present {
			expected = &cur
		}
		swapped, err := a.store.CompareAndSetInt(ctx, a.path, expected, val)
		if err != nil {
			return 0, false, fmt.Errorf("failed to write identifier counter: %w", err)
		}
		if swapped {
			return cur, true, nil
		}

		if a.observer != nil {
			a.observer.AllocationRetried()
		}
		a.logger.Debug("Allocator: counter changed concurrently, retrying", "attempt", attempt+1)
	}

	return 0, false, model.ErrAllocationConflict
}
