// Package storetest is a behavioural test suite every model.RemoteStore
// implementation runs against.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/staffsync/internal/model"
)

// Timeout bounds every wait for a subscription event.
var Timeout = 5 * time.Second

// Recorder collects subscription callbacks.
type Recorder struct {
	nodes chan model.Node
	errs  chan error
}

func NewRecorder() *Recorder {
	return &Recorder{
		nodes: make(chan model.Node, 1000),
		errs:  make(chan error, 10),
	}
}

func (r *Recorder) OnSnapshot(n model.Node) { r.nodes <- n }
func (r *Recorder) OnError(err error)       { r.errs <- err }

// Next waits for the next snapshot. Snapshots already received win over
// a pending error.
func (r *Recorder) Next(t *testing.T) model.Node {
	t.Helper()
	select {
	case n := <-r.nodes:
		return n
	default:
	}
	select {
	case n := <-r.nodes:
		return n
	case err := <-r.errs:
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(Timeout):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// WaitFor reads snapshots until one satisfies cond.
func (r *Recorder) WaitFor(t *testing.T, cond func(model.Node) bool) model.Node {
	t.Helper()
	deadline := time.After(Timeout)
	for {
		select {
		case n := <-r.nodes:
			if cond(n) {
				return n
			}
		case err := <-r.errs:
			t.Fatalf("subscription failed: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

// Err waits for the subscription error.
func (r *Recorder) Err(t *testing.T) error {
	t.Helper()
	for {
		select {
		case err := <-r.errs:
			return err
		case <-r.nodes:
		case <-time.After(Timeout):
			t.Fatal("timed out waiting for subscription error")
			return nil
		}
	}
}

// Quiet asserts no snapshot arrives within d.
func (r *Recorder) Quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case n := <-r.nodes:
		t.Fatalf("unexpected snapshot %v", n)
	case <-time.After(d):
	}
}

// Run executes the contract suite. open must return a fresh, empty store
// for every call.
func Run(t *testing.T, open func(t *testing.T) model.RemoteStore) {
	t.Run("scalar set and get", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, ok, err := s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, model.CounterPath, int64(3)))
		v, ok, err := s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(3), v)

		require.NoError(t, s.Set(ctx, model.CounterPath, "three"))
		v, _, err = s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		assert.Equal(t, "three", v)
	})

	t.Run("node set and get", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, ok, err := s.Get(ctx, model.EmployeesPath)
		require.NoError(t, err)
		assert.False(t, ok)

		ada := model.Node{model.FieldID: int64(0), model.FieldName: "Ada Lovelace", model.FieldImage: "/9j/"}
		require.NoError(t, s.Set(ctx, model.EmployeePath(0), ada))
		require.NoError(t, s.Set(ctx, model.EmployeePath(1), model.Node{model.FieldID: int64(1), model.FieldName: "Alan Turing"}))

		v, ok, err := s.Get(ctx, model.EmployeePath(0))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ada, v)

		v, ok, err = s.Get(ctx, model.EmployeesPath)
		require.NoError(t, err)
		require.True(t, ok)
		node, isNode := model.AsNode(v)
		require.True(t, isNode)
		assert.Len(t, node, 2)
		assert.Equal(t, ada, node["0"])

		_, ok, err = s.Get(ctx, model.EmployeePath(9))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("collection set replaces children", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.Set(ctx, model.EmployeePath(0), model.Node{model.FieldID: int64(0)}))
		require.NoError(t, s.Set(ctx, model.EmployeesPath, model.Node{
			"5": model.Node{model.FieldID: int64(5), model.FieldName: "Grace Hopper"},
		}))

		v, ok, err := s.Get(ctx, model.EmployeesPath)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, model.Node{"5": model.Node{model.FieldID: int64(5), model.FieldName: "Grace Hopper"}}, v)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.Delete(ctx, model.EmployeePath(4)), "absent path")
		require.NoError(t, s.Delete(ctx, model.EmployeesPath), "absent collection")

		require.NoError(t, s.Set(ctx, model.EmployeePath(0), model.Node{model.FieldID: int64(0)}))
		require.NoError(t, s.Set(ctx, model.EmployeePath(1), model.Node{model.FieldID: int64(1)}))
		require.NoError(t, s.Set(ctx, model.CounterPath, int64(2)))

		require.NoError(t, s.Delete(ctx, model.EmployeePath(0)))
		_, ok, err := s.Get(ctx, model.EmployeePath(0))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Delete(ctx, model.EmployeesPath))
		_, ok, err = s.Get(ctx, model.EmployeesPath)
		require.NoError(t, err)
		assert.False(t, ok)

		v, ok, err := s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		require.True(t, ok, "other collections are untouched")
		assert.Equal(t, int64(2), v)
	})

	t.Run("compare and set", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		ok, err := s.CompareAndSetInt(ctx, model.CounterPath, nil, 1)
		require.NoError(t, err)
		assert.True(t, ok, "absent matches nil")

		ok, err = s.CompareAndSetInt(ctx, model.CounterPath, nil, 5)
		require.NoError(t, err)
		assert.False(t, ok, "present does not match nil")

		stale := int64(0)
		ok, err = s.CompareAndSetInt(ctx, model.CounterPath, &stale, 5)
		require.NoError(t, err)
		assert.False(t, ok)

		current := int64(1)
		ok, err = s.CompareAndSetInt(ctx, model.CounterPath, &current, 2)
		require.NoError(t, err)
		assert.True(t, ok)

		v, _, err := s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("concurrent compare and set", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, model.CounterPath, int64(0)))

		const workers, perWorker = 8, 5
		var (
			mu  sync.Mutex
			won = make(map[int64]int)
			wg  sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < perWorker; {
					v, _, err := s.Get(ctx, model.CounterPath)
					if !assert.NoError(t, err) {
						return
					}
					cur, _ := model.AsInt64(v)
					ok, err := s.CompareAndSetInt(ctx, model.CounterPath, &cur, cur+1)
					if !assert.NoError(t, err) {
						return
					}
					if ok {
						mu.Lock()
						won[cur]++
						mu.Unlock()
						n++
					}
				}
			}()
		}
		wg.Wait()

		assert.Len(t, won, workers*perWorker)
		for v, n := range won {
			assert.Equal(t, 1, n, "value %d won twice", v)
		}
		v, _, err := s.Get(ctx, model.CounterPath)
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), v)
	})

	t.Run("subscribe", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, model.EmployeePath(0), model.Node{model.FieldID: int64(0), model.FieldName: "Ada Lovelace"}))

		rec := NewRecorder()
		sub, err := s.Subscribe(ctx, model.EmployeesPath, rec.OnSnapshot, rec.OnError)
		require.NoError(t, err)
		t.Cleanup(sub.Unsubscribe)

		first := rec.Next(t)
		assert.Len(t, first, 1)

		require.NoError(t, s.Set(ctx, model.EmployeePath(1), model.Node{model.FieldID: int64(1), model.FieldName: "Alan Turing"}))
		n := rec.WaitFor(t, func(n model.Node) bool { return len(n) == 2 })
		assert.Equal(t, model.Node{model.FieldID: int64(1), model.FieldName: "Alan Turing"}, n["1"])

		require.NoError(t, s.Set(ctx, model.CounterPath, int64(2)))
		require.NoError(t, s.Delete(ctx, model.EmployeePath(0)))
		n = rec.WaitFor(t, func(n model.Node) bool { return len(n) == 1 })
		assert.Contains(t, n, "1")

		require.NoError(t, s.Delete(ctx, model.EmployeesPath))
		rec.WaitFor(t, func(n model.Node) bool { return len(n) == 0 })
	})

	t.Run("subscribe to empty collection", func(t *testing.T) {
		s := open(t)

		rec := NewRecorder()
		sub, err := s.Subscribe(context.Background(), model.EmployeesPath, rec.OnSnapshot, rec.OnError)
		require.NoError(t, err)
		t.Cleanup(sub.Unsubscribe)

		assert.Empty(t, rec.Next(t))
	})

	t.Run("unsubscribe", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		rec := NewRecorder()
		sub, err := s.Subscribe(ctx, model.EmployeesPath, rec.OnSnapshot, rec.OnError)
		require.NoError(t, err)
		rec.Next(t)

		sub.Unsubscribe()
		sub.Unsubscribe()

		require.NoError(t, s.Set(ctx, model.EmployeePath(0), model.Node{model.FieldID: int64(0)}))
		rec.Quiet(t, 300*time.Millisecond)
	})

	t.Run("unsupported path", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		assert.ErrorIs(t, s.Set(ctx, "", int64(1)), model.ErrUnsupportedPath)
		_, _, err := s.Get(ctx, "")
		assert.ErrorIs(t, err, model.ErrUnsupportedPath)
	})
}
