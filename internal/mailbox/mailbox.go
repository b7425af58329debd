// Package mailbox provides an unbounded FIFO that hands items to a single
// consumer over a channel without ever blocking the producer.
package mailbox

import "sync"

// Mailbox buffers pushed items and delivers them in order on C.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	signal chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

// New creates a Mailbox and starts its delivery goroutine.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

// Push enqueues v. It reports false if the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// C is closed once the mailbox is closed.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Len returns the number of items not yet delivered.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops delivery and drops undelivered items. Safe to call repeatedly.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.items = nil
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		v := m.items[0]
		var zero T
		m.items[0] = zero
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.done:
			return
		}
	}
}
