package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/storetest"
)

type recorder struct {
	mu    sync.Mutex
	nodes []model.Node
	errs  []error
	ch    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 100)}
}

func (r *recorder) onSnapshot(n model.Node) {
	r.mu.Lock()
	r.nodes = append(r.nodes, n)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

func (r *recorder) last() model.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[len(r.nodes)-1]
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Set(ctx, "PEOPLE_NUMBER/ID", 3))
	v, ok, err := s.Get(ctx, "PEOPLE_NUMBER/ID")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	require.NoError(t, s.Set(ctx, "EMPLOYEES/0", model.Node{"ID": 0, "Name": "Ada Lovelace"}))
	v, ok, err = s.Get(ctx, "EMPLOYEES")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Node{"0": model.Node{"ID": int64(0), "Name": "Ada Lovelace"}}, v)

	_, ok, err = s.Get(ctx, "EMPLOYEES/9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Set(ctx, "EMPLOYEES/0", model.Node{"Name": "Ada Lovelace"}))

	v, _, err := s.Get(ctx, "EMPLOYEES/0")
	require.NoError(t, err)
	v.(model.Node)["Name"] = "changed"

	v, _, err = s.Get(ctx, "EMPLOYEES/0")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", v.(model.Node)["Name"])
}

func TestStore_SetRejectsUnsupportedValues(t *testing.T) {
	s := NewStore()
	err := s.Set(context.Background(), "EMPLOYEES/0", 1.5)
	assert.Error(t, err)

	err = s.Set(context.Background(), "", "x")
	assert.ErrorIs(t, err, model.ErrUnsupportedPath)
}

func TestStore_DeletePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Set(ctx, "EMPLOYEES/0", model.Node{"ID": 0}))

	require.NoError(t, s.Delete(ctx, "EMPLOYEES/0"))
	_, ok, err := s.Get(ctx, "EMPLOYEES")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete(ctx, "EMPLOYEES/42"))
}

func TestStore_CompareAndSetInt(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	ok, err := s.CompareAndSetInt(ctx, "PEOPLE_NUMBER/ID", nil, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSetInt(ctx, "PEOPLE_NUMBER/ID", nil, 5)
	require.NoError(t, err)
	assert.False(t, ok, "path exists")

	stale := int64(0)
	ok, err = s.CompareAndSetInt(ctx, "PEOPLE_NUMBER/ID", &stale, 5)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation")

	cur := int64(1)
	ok, err = s.CompareAndSetInt(ctx, "PEOPLE_NUMBER/ID", &cur, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, _ := s.Get(ctx, "PEOPLE_NUMBER/ID")
	assert.Equal(t, int64(2), v)
}

func TestStore_SubscribeDeliversInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	r := newRecorder()

	sub, err := s.Subscribe(ctx, "EMPLOYEES", r.onSnapshot, r.onError)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	r.wait(t, 1)
	assert.Empty(t, r.last())

	require.NoError(t, s.Set(ctx, "EMPLOYEES/0", model.Node{"ID": 0}))
	r.wait(t, 1)
	assert.Len(t, r.last(), 1)

	// unrelated path does not notify
	require.NoError(t, s.Set(ctx, "PEOPLE_NUMBER/ID", 1))
	require.NoError(t, s.Delete(ctx, "EMPLOYEES"))
	r.wait(t, 1)
	assert.Empty(t, r.last())

	r.mu.Lock()
	assert.Len(t, r.nodes, 3)
	r.mu.Unlock()
}

func TestStore_SlowSubscriberDoesNotBlockWriters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	gate := make(chan struct{})
	got := make(chan int, 16)

	sub, err := s.Subscribe(ctx, "EMPLOYEES", func(n model.Node) {
		<-gate
		got <- len(n)
	}, func(error) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			assert.NoError(t, s.Set(ctx, model.EmployeePath(int64(i)), model.Node{"ID": int64(i)}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes blocked on a stalled subscriber")
	}

	close(gate)
	for want := 0; want <= 5; want++ {
		select {
		case n := <-got:
			assert.Equal(t, want, n)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for snapshot %d", want)
		}
	}
}

func TestStore_UnsubscribeIsIdempotent(t *testing.T) {
	s := NewStore()
	r := newRecorder()

	sub, err := s.Subscribe(context.Background(), "EMPLOYEES", r.onSnapshot, r.onError)
	require.NoError(t, err)
	r.wait(t, 1)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, s.Subscribers())
}

func TestStore_CancelSubscriptions(t *testing.T) {
	s := NewStore()
	r := newRecorder()

	sub, err := s.Subscribe(context.Background(), "EMPLOYEES", r.onSnapshot, r.onError)
	require.NoError(t, err)
	r.wait(t, 1)

	boom := errors.New("permission denied")
	s.CancelSubscriptions(boom)
	r.wait(t, 1)

	r.mu.Lock()
	require.Len(t, r.errs, 1)
	assert.ErrorIs(t, r.errs[0], boom)
	r.mu.Unlock()

	assert.NotPanics(t, sub.Unsubscribe)
	assert.Equal(t, 0, s.Subscribers())
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	r := newRecorder()

	_, err := s.Subscribe(ctx, "EMPLOYEES", r.onSnapshot, r.onError)
	require.NoError(t, err)
	r.wait(t, 1)

	require.NoError(t, s.Close())
	r.wait(t, 1)

	assert.ErrorIs(t, s.Set(ctx, "EMPLOYEES/0", "x"), model.ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), model.ErrStoreClosed)
	_, err = s.Subscribe(ctx, "EMPLOYEES", r.onSnapshot, r.onError)
	assert.ErrorIs(t, err, model.ErrStoreClosed)
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) model.RemoteStore {
		s := NewStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
