package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/metrics/export/internaldefs"
	"github.com/MrEthical07/goAudit/store/memory"
)

type fakeSource struct {
	snapshot goAudit.MetricsSnapshot
	buffered int
}

func (f fakeSource) MetricsSnapshot() goAudit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) Buffered() int                             { return f.buffered }

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectorEmitsEveryDefinition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goAudit.MetricsSnapshot{
			Counters:   map[goAudit.MetricID]uint64{},
			Histograms: map[goAudit.MetricID][]uint64{},
		},
	})

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	if got := testutil.CollectAndCount(exp); got != want {
		t.Fatalf("expected %d metrics, got %d", want, got)
	}
}

func TestHandlerRendersCountersHistogramAndGauge(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goAudit.MetricsSnapshot{
			Counters: map[goAudit.MetricID]uint64{
				goAudit.MetricEventsIndexed: 7,
				goAudit.MetricEventsDropped: 2,
			},
			Histograms: map[goAudit.MetricID][]uint64{
				goAudit.MetricFlushLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		buffered: 12,
	})

	out := scrape(t, exp)
	for _, line := range []string{
		"goaudit_events_indexed_total 7",
		"goaudit_events_dropped_total 2",
		"goaudit_flush_latency_seconds_bucket{le=\"0.005\"} 1",
		"goaudit_flush_latency_seconds_bucket{le=\"+Inf\"} 36",
		"goaudit_flush_latency_seconds_count 36",
		"goaudit_buffer_events 12",
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("expected %q in output, got:\n%s", line, out)
		}
	}
}

func TestExporterReadsLiveTrail(t *testing.T) {
	trail, err := goAudit.New().WithStore(memory.New()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := trail.Record(goAudit.Event{Type: goAudit.EventAccessGranted}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	out := scrape(t, NewExporter(trail))
	if !strings.Contains(out, "goaudit_events_recorded_total 3") || !strings.Contains(out, "goaudit_buffer_events 3") {
		t.Fatalf("expected live trail values, got:\n%s", out)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goAudit.MetricsSnapshot{
			Counters: map[goAudit.MetricID]uint64{
				goAudit.MetricEventsRecorded: 1000,
				goAudit.MetricEventsIndexed:  990,
				goAudit.MetricEventsDropped:  10,
				goAudit.MetricFlushCycles:    40,
			},
			Histograms: map[goAudit.MetricID][]uint64{
				goAudit.MetricFlushLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
