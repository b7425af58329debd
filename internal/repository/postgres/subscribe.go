package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/dtroode/staffsync/internal/model"
)

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe implements model.RemoteStore for collection paths. Each
// subscription holds one connection out of the pool for LISTEN.
func (s *Store) Subscribe(ctx context.Context, path string, onSnapshot func(model.Node), onError func(error)) (model.Subscription, error) {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return nil, err
	}
	if key != "" {
		return nil, fmt.Errorf("%w: subscriptions are per collection, got %q", model.ErrUnsupportedPath, path)
	}

	pooled, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go s.listen(subCtx, conn, collection, onSnapshot, onError)

	s.logger.Debug("Postgres store: subscribed", "collection", collection)
	return &subscription{cancel: cancel}, nil
}

func (s *Store) listen(ctx context.Context, conn *pgx.Conn, collection string, onSnapshot func(model.Node), onError func(error)) {
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			s.logger.Debug("Postgres store: failed to close listener connection", "error", err)
		}
	}()

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Postgres store: subscription ended", "collection", collection, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	deliver := func() bool {
		children, err := s.loadCollection(ctx, collection)
		if err != nil {
			fail(err)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		onSnapshot(children)
		return true
	}

	if !deliver() {
		return
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			fail(fmt.Errorf("failed to wait for notification: %w", err))
			return
		}
		if n.Payload != collection {
			continue
		}
		if !deliver() {
			return
		}
	}
}
