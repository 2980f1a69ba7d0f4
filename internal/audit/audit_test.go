package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate    chan struct{}
	entered chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{}), entered: make(chan struct{}, 16)}
}

func (s *gateSink) Emit(context.Context, Event) {
	s.entered <- struct{}{}
	<-s.gate
}

// occupy parks the dispatcher goroutine inside the sink and fills the queue.
func occupy(t *testing.T, d *Dispatcher, sink *gateSink) {
	t.Helper()
	d.Emit(context.Background(), Event{Type: TypeAccessGranted})
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never reached the sink")
	}
	d.Emit(context.Background(), Event{Type: TypeAccessGranted})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCloneDetachesDetails(t *testing.T) {
	ev := Event{Type: TypeAccessDenied, Details: map[string]any{"index": "a"}}
	cp := ev.Clone()
	ev.Details["index"] = "b"

	if cp.Details["index"] != "a" {
		t.Fatalf("expected clone to keep original detail, got %v", cp.Details["index"])
	}
}

func TestDispatcherDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	occupy(t, d, sink)

	start := time.Now()
	if ok := d.Emit(context.Background(), Event{Type: TypeAccessGranted}); ok {
		t.Fatal("expected third emit to be dropped")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", d.Dropped())
	}
}

func TestDispatcherBlockingHonorsContext(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	occupy(t, d, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := d.Emit(ctx, Event{Type: TypeAccessGranted}); ok {
		t.Fatal("expected emit to give up when context expires")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", d.Dropped())
	}
}

func TestDispatcherCloseDrainsQueued(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 16, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: TypeAccessGranted})
	}
	d.Close()
	d.Close()

	if got := sink.count.Load(); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	if d.Emit(context.Background(), Event{}) {
		t.Fatal("expected emit after close to be rejected")
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	if d.Emit(context.Background(), Event{}) {
		t.Fatal("nil dispatcher must not accept events")
	}
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		ID:        "e1",
		Type:      TypeAuthenticationSuccess,
		Timestamp: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC),
		Principal: "alice",
	})
	sink.Emit(context.Background(), Event{ID: "e2", Type: TypeAccessDenied})

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected two lines, got %q", out)
	}
	if !strings.Contains(out, `"event_type":"authentication_success"`) {
		t.Fatalf("expected event type in output, got %q", out)
	}
	if !strings.Contains(out, `"principal":"alice"`) {
		t.Fatalf("expected principal in output, got %q", out)
	}
	if strings.Contains(strings.Split(out, "\n")[1], "principal") {
		t.Fatal("expected empty principal to be omitted")
	}
}
