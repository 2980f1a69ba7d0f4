package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	goAudit "github.com/MrEthical07/goAudit"
)

func newLoadtestCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Record synthetic events concurrently and report latency and counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := loadtestOptions{
				producers: v.GetInt("producers"),
				events:    v.GetInt("events"),
				rate:      v.GetFloat64("rate"),
				timeout:   v.GetDuration("drain-timeout"),
			}
			return runLoadtest(cmd.Context(), v, opts, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.Int("producers", 64, "concurrent producers")
	fs.Int("events", 200000, "total events to record")
	fs.Float64("rate", 0, "events per second across all producers; 0 is unlimited")
	fs.Duration("drain-timeout", 30*time.Second, "time allowed for the final flush")
	return cmd
}

type loadtestOptions struct {
	producers int
	events    int
	rate      float64
	timeout   time.Duration
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

var loadtestTypes = [...]goAudit.EventType{
	goAudit.EventAuthenticationSuccess,
	goAudit.EventAuthenticationFailed,
	goAudit.EventAccessGranted,
	goAudit.EventAccessDenied,
	goAudit.EventConnectionGranted,
}

func runLoadtest(ctx context.Context, v *viper.Viper, opts loadtestOptions, out io.Writer) error {
	if opts.producers <= 0 || opts.events <= 0 {
		return errors.New("producers and events must be > 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := openTrail(ctx, v)
	if err != nil {
		return err
	}
	defer h.cleanup()

	if err := h.trail.Start(ctx); err != nil {
		return err
	}

	var limiter *rate.Limiter
	if opts.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.rate), opts.producers)
	}

	stats := recordPhase(ctx, h.trail, limiter, opts)

	drainStart := time.Now()
	stopErr := h.trail.Stop(opts.timeout)
	drain := time.Since(drainStart)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "record", stats)
	fmt.Fprintf(out, "drain: %s\n", drain.Round(time.Millisecond))
	snap := h.trail.MetricsSnapshot()
	for _, id := range goAudit.MetricIDs() {
		if id == goAudit.MetricFlushLatency {
			continue
		}
		fmt.Fprintf(out, "%s=%d\n", id.Name(), snap.Counters[id])
	}
	return stopErr
}

func recordPhase(ctx context.Context, trail *goAudit.Trail, limiter *rate.Limiter, opts loadtestOptions) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.events)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.producers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			local := make([]time.Duration, 0, opts.events/opts.producers+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.events {
					return
				}
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}
				ev := goAudit.Event{
					Type:          loadtestTypes[i%len(loadtestTypes)],
					Principal:     fmt.Sprintf("user-%d", i%1000),
					OriginAddress: fmt.Sprintf("10.0.%d.%d", worker%256, i%256),
					Action:        "indices:data/read/search",
					Layer:         "rest",
				}
				t0 := time.Now()
				err := trail.Record(ev)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
