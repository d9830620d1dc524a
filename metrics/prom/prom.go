package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tagcache"
)

// Adapter implements tagcache.Metrics and exports Prometheus counters. It
// also observes sweeper runs through Swept.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	expired  prometheus.Counter
	failures *prometheus.CounterVec

	swept      prometheus.Counter
	sweepFails prometheus.Counter
	sweepTime  prometheus.Histogram
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	a := &Adapter{
		hits:    counter("hits_total", "Cache hits"),
		misses:  counter("misses_total", "Cache misses, including expired and undecodable records"),
		expired: counter("expired_reads_total", "Reads that found a record past its expiry"),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "store_failures_total",
				Help:        "Store failures by cache operation",
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
		swept:      counter("swept_records_total", "Stale records removed by the sweeper"),
		sweepFails: counter("sweep_failures_total", "Sweeper runs that failed"),
		sweepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "sweep_duration_seconds",
			Help:        "Duration of sweeper runs",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.expired, a.failures, a.swept, a.sweepFails, a.sweepTime)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Expired increments the expired-read counter.
func (a *Adapter) Expired() { a.expired.Inc() }

// Failure increments the store failure counter for op.
func (a *Adapter) Failure(op string) { a.failures.WithLabelValues(op).Inc() }

// Swept records one sweeper run; its signature matches sweep.Options.OnSweep.
func (a *Adapter) Swept(removed int64, took time.Duration, err error) {
	a.sweepTime.Observe(took.Seconds())
	if err != nil {
		a.sweepFails.Inc()
	}
	if removed > 0 {
		a.swept.Add(float64(removed))
	}
}

// Compile-time check: ensure Adapter implements tagcache.Metrics.
var _ tagcache.Metrics = (*Adapter)(nil)
