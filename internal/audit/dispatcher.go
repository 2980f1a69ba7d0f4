package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DispatcherConfig controls mirror buffering behavior.
type DispatcherConfig struct {
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards events to a mirror sink so that a slow
// sink never sits on the producer path.
type Dispatcher struct {
	cfg       DispatcherConfig
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event for the sink. It reports false when the event was dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- event:
		return true
	default:
	}

	select {
	case d.ch <- event:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.done:
		return false
	}
}

// Close stops accepting events and waits for queued ones to reach the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
