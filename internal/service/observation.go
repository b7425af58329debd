package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dtroode/staffsync/internal/directory"
	"github.com/dtroode/staffsync/internal/mailbox"
	"github.com/dtroode/staffsync/internal/model"
)

// Observation is one subscriber's ordered stream of directory snapshots.
type Observation struct {
	ID uuid.UUID

	box    *mailbox.Mailbox[model.Snapshot]
	handle *directory.Handle
	mu     sync.Mutex
	stop   func() bool
	detach func()
	once   sync.Once
	done   chan struct{}
}

// C delivers snapshots in publication order. It is closed when the
// observation ends.
func (o *Observation) C() <-chan model.Snapshot {
	return o.box.C()
}

// Done is closed once the observation has ended.
func (o *Observation) Done() <-chan struct{} {
	return o.done
}

// Close ends the observation. Undelivered snapshots are dropped.
func (o *Observation) Close() {
	o.once.Do(func() {
		o.mu.Lock()
		stop := o.stop
		o.mu.Unlock()
		if stop != nil {
			stop()
		}
		o.handle.Unsubscribe()
		o.box.Close()
		if o.detach != nil {
			o.detach()
		}
		close(o.done)
	})
}

// Observe registers a new subscriber. The observation ends when ctx is done
// or Close is called; other subscribers are not affected.
func (s *Directory) Observe(ctx context.Context) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.obsMu.Lock()
	closed := s.closed
	s.obsMu.Unlock()
	if closed {
		return nil, model.ErrChannelClosed
	}

	obs := &Observation{
		ID:   uuid.New(),
		box:  mailbox.New[model.Snapshot](),
		done: make(chan struct{}),
	}

	handle, err := s.channel.Subscribe(func(snapshot model.Snapshot) {
		obs.box.Push(snapshot)
	})
	if err != nil {
		obs.box.Close()
		return nil, fmt.Errorf("failed to observe directory: %w", err)
	}
	obs.handle = handle

	s.obsMu.Lock()
	if s.closed {
		s.obsMu.Unlock()
		obs.Close()
		return nil, model.ErrChannelClosed
	}
	s.observations[obs.ID] = obs
	obs.detach = func() {
		s.obsMu.Lock()
		delete(s.observations, obs.ID)
		s.obsMu.Unlock()
	}
	s.obsMu.Unlock()

	obs.mu.Lock()
	obs.stop = context.AfterFunc(ctx, obs.Close)
	obs.mu.Unlock()

	s.logger.Debug("Observer registered", "observation_id", obs.ID)
	return obs, nil
}
