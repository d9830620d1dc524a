package tagcache

// Metrics exposes cache-level counters. NoopMetrics is used by default;
// metrics/prom exports them to Prometheus.
type Metrics interface {
	Hit()
	Miss()
	// Expired counts reads that found a non-live record.
	Expired()
	// Failure counts store errors per operation, swallowed or not.
	Failure(op string)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()           {}
func (NoopMetrics) Miss()          {}
func (NoopMetrics) Expired()       {}
func (NoopMetrics) Failure(string) {}

var _ Metrics = NoopMetrics{}
