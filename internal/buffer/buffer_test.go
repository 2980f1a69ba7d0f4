package buffer

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAudit/internal/audit"
)

func event(i int) audit.Event {
	return audit.Event{ID: strconv.Itoa(i), Type: audit.TypeAuthenticationSuccess}
}

func ids(evs []audit.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}

func TestDrainIsFIFO(t *testing.T) {
	b := New(Config{Capacity: 8})
	for i := 0; i < 5; i++ {
		if _, err := b.Offer(event(i)); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}

	got := ids(b.Drain(3))
	if len(got) != 3 || got[0] != "0" || got[2] != "2" {
		t.Fatalf("unexpected first drain %v", got)
	}
	got = ids(b.Drain(10))
	if len(got) != 2 || got[0] != "3" || got[1] != "4" {
		t.Fatalf("unexpected second drain %v", got)
	}
	if evs := b.Drain(10); len(evs) != 0 {
		t.Fatalf("expected empty drain, got %d", len(evs))
	}
}

func TestDropOldestRetainsNewest(t *testing.T) {
	b := New(Config{Capacity: 500, Policy: DropOldest})

	evicted := 0
	for i := 0; i < 1000; i++ {
		n, err := b.Offer(event(i))
		if err != nil {
			t.Fatalf("DropOldest offer must not fail: %v", err)
		}
		evicted += n
		if b.Len() > b.Cap() {
			t.Fatalf("len %d exceeds cap %d", b.Len(), b.Cap())
		}
	}

	if evicted != 500 {
		t.Fatalf("expected 500 evictions, got %d", evicted)
	}
	got := b.Drain(1000)
	if len(got) != 500 {
		t.Fatalf("expected 500 retained, got %d", len(got))
	}
	if got[0].ID != "500" || got[499].ID != "999" {
		t.Fatalf("expected newest 500 retained, got %s..%s", got[0].ID, got[499].ID)
	}
}

func TestRejectNewFailsWithinBound(t *testing.T) {
	b := New(Config{Capacity: 2, Policy: RejectNew, EnqueueTimeout: 20 * time.Millisecond})
	_, _ = b.Offer(event(1))
	_, _ = b.Offer(event(2))

	start := time.Now()
	_, err := b.Offer(event(3))
	elapsed := time.Since(start)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if elapsed > time.Second {
		t.Fatalf("offer blocked too long: %v", elapsed)
	}
	if b.Len() != 2 {
		t.Fatalf("expected existing events kept, len=%d", b.Len())
	}
}

func TestRejectNewWithoutTimeoutFailsImmediately(t *testing.T) {
	b := New(Config{Capacity: 1, Policy: RejectNew})
	_, _ = b.Offer(event(1))
	if _, err := b.Offer(event(2)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestRejectNewWakesOnDrain(t *testing.T) {
	b := New(Config{Capacity: 1, Policy: RejectNew, EnqueueTimeout: 5 * time.Second})
	_, _ = b.Offer(event(1))

	done := make(chan error, 1)
	go func() {
		_, err := b.Offer(event(2))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Drain(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected offer to succeed after drain, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("offer was not woken by drain")
	}
	if got := ids(b.Drain(1)); len(got) != 1 || got[0] != "2" {
		t.Fatalf("unexpected buffered events %v", got)
	}
}

func TestRequeuePutsEventsFirst(t *testing.T) {
	b := New(Config{Capacity: 4})
	_, _ = b.Offer(event(1))
	_, _ = b.Offer(event(2))
	batch := b.Drain(2)
	_, _ = b.Offer(event(3))

	if evicted := b.Requeue(batch); evicted != 0 {
		t.Fatalf("expected no eviction, got %d", evicted)
	}
	got := ids(b.Drain(10))
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRequeueEvictsOldestOnOverflow(t *testing.T) {
	b := New(Config{Capacity: 3})
	batch := []audit.Event{event(1), event(2), event(3)}
	_, _ = b.Offer(event(9))

	if evicted := b.Requeue(batch); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	got := ids(b.Drain(10))
	want := []string{"2", "3", "9"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReadySignalsAtHighWater(t *testing.T) {
	b := New(Config{Capacity: 10, HighWaterMark: 3})
	_, _ = b.Offer(event(1))
	_, _ = b.Offer(event(2))
	select {
	case <-b.Ready():
		t.Fatal("ready fired below high-water mark")
	default:
	}

	_, _ = b.Offer(event(3))
	_, _ = b.Offer(event(4))
	select {
	case <-b.Ready():
	default:
		t.Fatal("expected ready signal at high-water mark")
	}
	// Signals coalesce into a single pending notification.
	select {
	case <-b.Ready():
		t.Fatal("expected coalesced ready signal")
	default:
	}
	if !b.AboveHighWater() {
		t.Fatal("expected AboveHighWater")
	}
}

func TestRequeueDoesNotSignalReady(t *testing.T) {
	b := New(Config{Capacity: 10, HighWaterMark: 3})
	batch := []audit.Event{event(1), event(2), event(3), event(4)}
	if evicted := b.Requeue(batch); evicted != 0 {
		t.Fatalf("expected no eviction, got %d", evicted)
	}
	select {
	case <-b.Ready():
		t.Fatal("requeue must not arm the ready signal")
	default:
	}
	if !b.AboveHighWater() {
		t.Fatal("expected AboveHighWater after requeue")
	}
}

func TestConcurrentOffersStayBounded(t *testing.T) {
	b := New(Config{Capacity: 64})
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, _ = b.Offer(event(p*1000 + i))
				if i%50 == 0 {
					b.Drain(16)
				}
			}
		}(p)
	}
	wg.Wait()
	if b.Len() > b.Cap() {
		t.Fatalf("len %d exceeds cap %d", b.Len(), b.Cap())
	}
}
