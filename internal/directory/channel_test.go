package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/staffsync/internal/imagecodec"
	"github.com/dtroode/staffsync/internal/mocks"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/memory"
	"github.com/dtroode/staffsync/internal/testutil"
)

type channelMetrics struct {
	mu        sync.Mutex
	published int
	observers int
	failures  int
}

func (m *channelMetrics) SnapshotPublished(int) { m.mu.Lock(); m.published++; m.mu.Unlock() }
func (m *channelMetrics) ObserversChanged(n int) { m.mu.Lock(); m.observers = n; m.mu.Unlock() }
func (m *channelMetrics) UpstreamFailed()        { m.mu.Lock(); m.failures++; m.mu.Unlock() }

func newTestChannel(t *testing.T, store model.RemoteStore, opts ...ChannelOption) *Channel {
	t.Helper()
	log := testutil.MakeNoopLogger()
	c := NewChannel(store, NewMapper(imagecodec.New(log, nil)), log, opts...)
	t.Cleanup(c.Close)
	return c
}

func collect(t *testing.T, c *Channel) (*Handle, chan model.Snapshot) {
	t.Helper()
	ch := make(chan model.Snapshot, 100)
	h, err := c.Subscribe(func(s model.Snapshot) { ch <- s })
	require.NoError(t, err)
	return h, ch
}

func putEmployee(t *testing.T, store model.RemoteStore, id int64) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), model.EmployeePath(id), model.Node{
		model.FieldID:   id,
		model.FieldName: fmt.Sprintf("Employee Number%d", id),
	}))
}

func TestChannel_EmptyDirectoryEmitsEmptySnapshot(t *testing.T) {
	c := newTestChannel(t, memory.NewStore())
	_, ch := collect(t, c)

	s := testutil.NextSnapshot(t, ch)
	assert.NotNil(t, s)
	assert.Empty(t, s)
}

func TestChannel_SnapshotsAreNewestFirst(t *testing.T) {
	store := memory.NewStore()
	c := newTestChannel(t, store)
	_, ch := collect(t, c)
	testutil.NextSnapshot(t, ch)

	for id := int64(0); id < 3; id++ {
		putEmployee(t, store, id)
	}

	s := testutil.WaitForIDs(t, ch, 2, 1, 0)
	assert.Equal(t, "Employee", s[0].FirstName)
	assert.Equal(t, "Number2", s[0].LastName)
}

func TestChannel_SingleUpstreamSharedSnapshot(t *testing.T) {
	store := memory.NewStore()
	c := newTestChannel(t, store)

	_, a := collect(t, c)
	_, b := collect(t, c)
	_, d := collect(t, c)
	assert.Equal(t, 1, store.Subscribers())
	assert.Equal(t, 3, c.Observers())

	putEmployee(t, store, 0)

	sa := testutil.WaitForIDs(t, a, 0)
	sb := testutil.WaitForIDs(t, b, 0)
	sd := testutil.WaitForIDs(t, d, 0)
	assert.Equal(t, fmt.Sprintf("%p", sa), fmt.Sprintf("%p", sb))
	assert.Equal(t, fmt.Sprintf("%p", sa), fmt.Sprintf("%p", sd))
}

func TestChannel_LateObserverReceivesLastSnapshot(t *testing.T) {
	store := memory.NewStore()
	putEmployee(t, store, 0)
	putEmployee(t, store, 1)
	c := newTestChannel(t, store)

	_, first := collect(t, c)
	testutil.WaitForIDs(t, first, 1, 0)

	_, late := collect(t, c)
	s := testutil.NextSnapshot(t, late)
	assert.Equal(t, []int64{1, 0}, s.IDs())
}

func TestChannel_UnsubscribeTearsDownUpstream(t *testing.T) {
	store := memory.NewStore()
	metrics := &channelMetrics{}
	c := newTestChannel(t, store, WithChannelObserver(metrics))

	h1, ch1 := collect(t, c)
	h2, ch2 := collect(t, c)
	testutil.NextSnapshot(t, ch1)
	testutil.NextSnapshot(t, ch2)

	h1.Unsubscribe()
	h1.Unsubscribe()
	assert.Equal(t, 1, store.Subscribers())
	assert.True(t, c.Connected())

	putEmployee(t, store, 0)
	testutil.WaitForIDs(t, ch2, 0)

	h2.Unsubscribe()
	assert.Eventually(t, func() bool { return store.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Connected())
	assert.Equal(t, 0, c.Observers())

	metrics.mu.Lock()
	assert.Equal(t, 0, metrics.observers)
	metrics.mu.Unlock()
}

func TestChannel_ResubscribeRestartsUpstream(t *testing.T) {
	store := memory.NewStore()
	c := newTestChannel(t, store)

	h, ch := collect(t, c)
	testutil.NextSnapshot(t, ch)
	h.Unsubscribe()

	putEmployee(t, store, 0)

	_, again := collect(t, c)
	s := testutil.NextSnapshot(t, again)
	assert.Equal(t, []int64{0}, s.IDs())
}

func TestChannel_UpstreamFailurePublishesEmptyAndRecovers(t *testing.T) {
	store := memory.NewStore()
	putEmployee(t, store, 0)
	metrics := &channelMetrics{}
	c := newTestChannel(t, store, WithRetryInterval(20*time.Millisecond), WithChannelObserver(metrics))

	_, ch := collect(t, c)
	testutil.WaitForIDs(t, ch, 0)

	store.CancelSubscriptions(errors.New("permission denied"))

	s := testutil.NextSnapshot(t, ch)
	assert.Empty(t, s, "observers see an empty directory instead of stale data")

	testutil.WaitForIDs(t, ch, 0)
	assert.True(t, c.Connected())

	metrics.mu.Lock()
	assert.Equal(t, 1, metrics.failures)
	metrics.mu.Unlock()
}

func TestChannel_Close(t *testing.T) {
	store := memory.NewStore()
	c := newTestChannel(t, store)

	h, ch := collect(t, c)
	testutil.NextSnapshot(t, ch)

	c.Close()
	c.Close()
	assert.NotPanics(t, h.Unsubscribe)
	assert.Eventually(t, func() bool { return store.Subscribers() == 0 }, time.Second, 5*time.Millisecond)

	_, err := c.Subscribe(func(model.Snapshot) {})
	assert.ErrorIs(t, err, model.ErrChannelClosed)
}

func TestChannel_SubscribeStoreError(t *testing.T) {
	store := &mocks.RemoteStore{}
	boom := errors.New("unauthorized")
	store.On("Subscribe", mock.Anything, model.EmployeesPath, mock.Anything, mock.Anything).Return(nil, boom).Once()
	c := newTestChannel(t, store)

	h, err := c.Subscribe(func(model.Snapshot) {})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Observers())
	store.AssertExpectations(t)
}

func TestChannel_DeliveryOrderUnderLoad(t *testing.T) {
	store := memory.NewStore()
	c := newTestChannel(t, store)
	_, ch := collect(t, c)
	testutil.NextSnapshot(t, ch)

	const n = 20
	for id := int64(0); id < n; id++ {
		putEmployee(t, store, id)
	}

	prev := 0
	for prev < n {
		s := testutil.NextSnapshot(t, ch)
		require.GreaterOrEqual(t, len(s), prev, "snapshots must not go backwards")
		prev = len(s)
	}
}
