// Package memory implements model.RemoteStore as an in-process node tree
// with asynchronous, per-subscription ordered change delivery.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dtroode/staffsync/internal/mailbox"
	"github.com/dtroode/staffsync/internal/model"
)

var _ model.RemoteStore = (*Store)(nil)

type event struct {
	node model.Node
	err  error
}

type subscription struct {
	store *Store
	id    uint64
	path  []string
	box   *mailbox.Mailbox[event]
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
		s.box.Close()
	})
}

// Store is a goroutine-safe node tree.
type Store struct {
	mu     sync.Mutex
	root   model.Node
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		root: model.Node{},
		subs: make(map[uint64]*subscription),
	}
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", model.ErrUnsupportedPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedPath, path)
		}
	}
	return parts, nil
}

func normalize(value any) (any, error) {
	switch v := value.(type) {
	case string, int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case model.Node:
		return normalizeNode(v)
	case map[string]any:
		return normalizeNode(model.Node(v))
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

func normalizeNode(n model.Node) (model.Node, error) {
	out := make(model.Node, len(n))
	for k, v := range n {
		if k == "" || strings.Contains(k, "/") {
			return nil, fmt.Errorf("%w: child key %q", model.ErrUnsupportedPath, k)
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// Set implements model.RemoteStore.
func (s *Store) Set(_ context.Context, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrStoreClosed
	}

	s.setLocked(parts, v)
	s.notifyLocked(parts)
	return nil
}

// Get implements model.RemoteStore.
func (s *Store) Get(_ context.Context, path string) (any, bool, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, model.ErrStoreClosed
	}

	v, ok := s.lookupLocked(parts)
	if !ok {
		return nil, false, nil
	}
	return model.CloneValue(v), true, nil
}

// Delete implements model.RemoteStore.
func (s *Store) Delete(_ context.Context, path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrStoreClosed
	}

	if s.deleteLocked(s.root, parts) {
		s.notifyLocked(parts)
	}
	return nil
}

// CompareAndSetInt implements model.RemoteStore.
func (s *Store) CompareAndSetInt(_ context.Context, path string, expected *int64, next int64) (bool, error) {
	parts, err := splitPath(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, model.ErrStoreClosed
	}

	cur, ok := s.lookupLocked(parts)
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && !ok:
		return false, nil
	case expected != nil:
		i, isInt := model.AsInt64(cur)
		if !isInt || i != *expected {
			return false, nil
		}
	}

	s.setLocked(parts, next)
	s.notifyLocked(parts)
	return true, nil
}

// Subscribe implements model.RemoteStore.
func (s *Store) Subscribe(_ context.Context, path string, onSnapshot func(model.Node), onError func(error)) (model.Subscription, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, model.ErrStoreClosed
	}

	s.nextID++
	sub := &subscription{
		store: s,
		id:    s.nextID,
		path:  parts,
		box:   mailbox.New[event](),
	}
	s.subs[sub.id] = sub

	go func() {
		for ev := range sub.box.C() {
			if ev.err != nil {
				if onError != nil {
					onError(ev.err)
				}
				sub.Unsubscribe()
				return
			}
			onSnapshot(ev.node)
		}
	}()

	sub.box.Push(event{node: s.snapshotLocked(parts)})
	return sub, nil
}

// CancelSubscriptions ends every live subscription with err, the way a
// remote store reports a revoked or dropped listener.
func (s *Store) CancelSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.subs {
		sub.box.Push(event{err: err})
		delete(s.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close cancels all subscriptions with model.ErrStoreClosed. Further calls fail.
func (s *Store) Close() error {
	s.CancelSubscriptions(model.ErrStoreClosed)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping implements model.Pinger.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrStoreClosed
	}
	return nil
}

func (s *Store) lookupLocked(parts []string) (any, bool) {
	var cur any = s.root
	for _, p := range parts {
		n, ok := model.AsNode(cur)
		if !ok {
			return nil, false
		}
		cur, ok = n[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s *Store) setLocked(parts []string, v any) {
	n := s.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := model.AsNode(n[p])
		if !ok {
			child = model.Node{}
			n[p] = child
		}
		n = child
	}
	n[parts[len(parts)-1]] = v
}

// deleteLocked removes parts below n and prunes parents left empty.
func (s *Store) deleteLocked(n model.Node, parts []string) bool {
	if len(parts) == 1 {
		if _, ok := n[parts[0]]; !ok {
			return false
		}
		delete(n, parts[0])
		return true
	}

	child, ok := model.AsNode(n[parts[0]])
	if !ok {
		return false
	}
	removed := s.deleteLocked(child, parts[1:])
	if removed && len(child) == 0 {
		delete(n, parts[0])
	}
	return removed
}

func (s *Store) snapshotLocked(parts []string) model.Node {
	v, ok := s.lookupLocked(parts)
	if !ok {
		return model.Node{}
	}
	n, ok := model.AsNode(v)
	if !ok {
		return model.Node{}
	}
	return model.CloneNode(n)
}

func (s *Store) notifyLocked(changed []string) {
	for _, sub := range s.subs {
		if related(sub.path, changed) {
			sub.box.Push(event{node: s.snapshotLocked(sub.path)})
		}
	}
}

// related reports whether one path is a prefix of the other.
func related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
