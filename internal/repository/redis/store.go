// Package redis implements model.RemoteStore with one hash per collection
// and change notifications over pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/nodejson"
)

const keyPrefix = "nodes:"

var _ model.RemoteStore = (*Store)(nil)

type Store struct {
	client *redis.Client
	logger *logger.Logger
}

func NewStore(client *redis.Client, logger *logger.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// collectionKey is both the hash holding the collection and the channel
// its changes are published on.
func collectionKey(collection string) string {
	return keyPrefix + collection
}

// Set implements model.RemoteStore. A collection path takes a node whose
// children replace the collection.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	collection, field, err := model.SplitPath(path)
	if err != nil {
		return err
	}
	key := collectionKey(collection)

	if field == "" {
		children, ok := model.AsNode(value)
		if !ok {
			return fmt.Errorf("%w: collection %q takes a node, got %T", model.ErrUnsupportedPath, collection, value)
		}

		values := make(map[string]any, len(children))
		for k, child := range children {
			data, err := nodejson.Marshal(child)
			if err != nil {
				return fmt.Errorf("child %s: %w", k, err)
			}
			values[k] = data
		}

		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				pipe.HSet(ctx, key, values)
			}
			pipe.Publish(ctx, key, collection)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", collection, err)
		}
		return nil
	}

	data, err := nodejson.Marshal(value)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, data)
		pipe.Publish(ctx, key, collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Get implements model.RemoteStore.
func (s *Store) Get(ctx context.Context, path string) (any, bool, error) {
	collection, field, err := model.SplitPath(path)
	if err != nil {
		return nil, false, err
	}

	if field == "" {
		children, err := s.loadCollection(ctx, collection)
		if err != nil {
			return nil, false, err
		}
		if len(children) == 0 {
			return nil, false, nil
		}
		return children, true, nil
	}

	data, err := s.client.HGet(ctx, collectionKey(collection), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	value, err := nodejson.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return value, true, nil
}

func (s *Store) loadCollection(ctx context.Context, collection string) (model.Node, error) {
	raw, err := s.client.HGetAll(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}

	children := make(model.Node, len(raw))
	for k, data := range raw {
		value, err := nodejson.Unmarshal([]byte(data))
		if err != nil {
			s.logger.Warn("Skipping undecodable node", "collection", collection, "key", k, "error", err)
			continue
		}
		children[k] = value
	}
	return children, nil
}

// Delete implements model.RemoteStore.
func (s *Store) Delete(ctx context.Context, path string) error {
	collection, field, err := model.SplitPath(path)
	if err != nil {
		return err
	}
	key := collectionKey(collection)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if field == "" {
			pipe.Del(ctx, key)
		} else {
			pipe.HDel(ctx, key, field)
		}
		pipe.Publish(ctx, key, collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// CompareAndSetInt implements model.RemoteStore with WATCH/MULTI on the
// collection hash. A concurrent write to the hash reports false.
func (s *Store) CompareAndSetInt(ctx context.Context, path string, expected *int64, next int64) (bool, error) {
	collection, field, err := model.SplitPath(path)
	if err != nil {
		return false, err
	}
	if field == "" {
		return false, fmt.Errorf("%w: %q is not a scalar", model.ErrUnsupportedPath, path)
	}
	key := collectionKey(collection)

	data, err := nodejson.Marshal(next)
	if err != nil {
		return false, err
	}

	swapped := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, field).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expected != nil {
				return nil
			}
		case err != nil:
			return err
		default:
			if expected == nil {
				return nil
			}
			value, err := nodejson.Unmarshal(current)
			if err != nil {
				return nil
			}
			if cur, ok := model.AsInt64(value); !ok || cur != *expected {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Publish(ctx, key, collection)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare and set %s: %w", path, err)
	}
	return swapped, nil
}

type subscription struct {
	cancel context.CancelFunc
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

// Subscribe implements model.RemoteStore for collection paths.
func (s *Store) Subscribe(ctx context.Context, path string, onSnapshot func(model.Node), onError func(error)) (model.Subscription, error) {
	collection, field, err := model.SplitPath(path)
	if err != nil {
		return nil, err
	}
	if field != "" {
		return nil, fmt.Errorf("%w: subscriptions are per collection, got %q", model.ErrUnsupportedPath, path)
	}

	pubsub := s.client.Subscribe(ctx, collectionKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go s.listen(subCtx, pubsub, collection, onSnapshot, onError)

	s.logger.Debug("Redis store: subscribed", "collection", collection)
	return &subscription{cancel: cancel, pubsub: pubsub}, nil
}

func (s *Store) listen(ctx context.Context, pubsub *redis.PubSub, collection string, onSnapshot func(model.Node), onError func(error)) {
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		_ = pubsub.Close()
		s.logger.Warn("Redis store: subscription ended", "collection", collection, "error", err)
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
		if _, err := pubsub.ReceiveMessage(ctx); err != nil {
			fail(fmt.Errorf("failed to receive change: %w", err))
			return
		}
		if !deliver() {
			return
		}
	}
}

// Ping implements model.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
