// Package buffer holds recorded events between the producer call and the
// bulk flusher.
//
// The buffer is a fixed-capacity ring guarded by a single mutex. It is the only
// serialization point on the record path: Offer never performs I/O and never
// blocks longer than the configured enqueue bound.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goAudit/internal/audit"
)

// OverflowPolicy selects what Offer does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest buffered event to make room.
	DropOldest OverflowPolicy = iota
	// RejectNew refuses the incoming event after the enqueue bound elapses.
	RejectNew
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case RejectNew:
		return "reject_new"
	default:
		return "unknown"
	}
}

// ErrFull is returned by Offer under RejectNew when no space frees up in time.
var ErrFull = errors.New("buffer full")

// Config controls buffer sizing and overflow behavior.
type Config struct {
	Capacity       int
	Policy         OverflowPolicy
	EnqueueTimeout time.Duration
	HighWaterMark  int
}

// Buffer is a bounded FIFO of events.
type Buffer struct {
	mu    sync.Mutex
	items []audit.Event
	head  int
	n     int

	policy    OverflowPolicy
	timeout   time.Duration
	highWater int

	// space is closed and replaced whenever Drain frees capacity.
	space chan struct{}
	ready chan struct{}
}

// New returns an empty buffer. Capacity below 1 is raised to 1.
func New(cfg Config) *Buffer {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = 1
	}
	hw := cfg.HighWaterMark
	if hw <= 0 || hw > capacity {
		hw = capacity
	}
	return &Buffer{
		items:     make([]audit.Event, capacity),
		policy:    cfg.Policy,
		timeout:   cfg.EnqueueTimeout,
		highWater: hw,
		space:     make(chan struct{}),
		ready:     make(chan struct{}, 1),
	}
}

// Offer appends ev. Under DropOldest it never fails and reports how many
// events were evicted to make room. Under RejectNew it waits up to the enqueue
// timeout for space and then returns ErrFull.
func (b *Buffer) Offer(ev audit.Event) (int, error) {
	var deadline *time.Timer
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if b.n < len(b.items) {
			b.push(ev)
			b.signalLocked()
			b.mu.Unlock()
			return 0, nil
		}

		if b.policy == DropOldest {
			b.items[b.head] = audit.Event{}
			b.head = (b.head + 1) % len(b.items)
			b.n--
			b.push(ev)
			b.signalLocked()
			b.mu.Unlock()
			return 1, nil
		}

		if b.timeout <= 0 {
			b.mu.Unlock()
			return 0, ErrFull
		}
		wait := b.space
		b.mu.Unlock()

		if deadline == nil {
			deadline = time.NewTimer(b.timeout)
		}
		select {
		case <-wait:
		case <-deadline.C:
			return 0, ErrFull
		}
	}
}

// Drain removes up to max events in FIFO order.
func (b *Buffer) Drain(max int) []audit.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if max <= 0 || b.n == 0 {
		return nil
	}
	if max > b.n {
		max = b.n
	}
	out := make([]audit.Event, max)
	for i := 0; i < max; i++ {
		out[i] = b.items[b.head]
		b.items[b.head] = audit.Event{}
		b.head = (b.head + 1) % len(b.items)
	}
	b.n -= max

	close(b.space)
	b.space = make(chan struct{})
	return out
}

// Requeue pushes events back to the front of the buffer, preserving their
// order, so they are drained before anything recorded since. When the buffer
// cannot hold them all, the oldest requeued events are discarded and their
// count is returned. Requeue does not signal Ready.
func (b *Buffer) Requeue(events []audit.Event) int {
	if len(events) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	free := len(b.items) - b.n
	evicted := 0
	if len(events) > free {
		evicted = len(events) - free
		events = events[evicted:]
	}
	for i := len(events) - 1; i >= 0; i-- {
		b.head = (b.head - 1 + len(b.items)) % len(b.items)
		b.items[b.head] = events[i]
		b.n++
	}
	return evicted
}

// Ready fires, coalesced, when the buffer reaches its high-water mark.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.items)
}

// AboveHighWater reports whether Len has reached the high-water mark.
func (b *Buffer) AboveHighWater() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n >= b.highWater
}

func (b *Buffer) push(ev audit.Event) {
	tail := (b.head + b.n) % len(b.items)
	b.items[tail] = ev
	b.n++
}

func (b *Buffer) signalLocked() {
	if b.n < b.highWater {
		return
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
