package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_DeliversInOrder(t *testing.T) {
	m := New[int]()
	defer m.Close()

	for i := 0; i < 100; i++ {
		require.True(t, m.Push(i))
	}

	for i := 0; i < 100; i++ {
		select {
		case v := <-m.C():
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out at %d", i)
		}
	}
}

func TestMailbox_PushNeverBlocks(t *testing.T) {
	m := New[int]()
	defer m.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			m.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
}

func TestMailbox_Close(t *testing.T) {
	m := New[string]()
	m.Push("a")
	m.Close()
	m.Close()

	assert.False(t, m.Push("b"))
	assert.Equal(t, 0, m.Len())

	select {
	case _, ok := <-m.C():
		if ok {
			// the pump may have picked "a" before Close; the next read must see closure
			_, ok = <-m.C()
		}
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
