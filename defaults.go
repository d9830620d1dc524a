package tagcache

import (
	"time"

	c "github.com/unkn0wn-root/tagcache/codec"
	"github.com/unkn0wn-root/tagcache/record"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// withDefaults fills every optional field of o. Gateway is left untouched.
func (o Options[V]) withDefaults() Options[V] {
	o.Namespace = coalesce(o.Namespace, record.DefaultNamespace)
	if o.Codec == nil {
		o.Codec = c.JSON[V]{}
	}
	o.Logger = coalesce[Logger](o.Logger, NopLogger{})
	o.Hooks = coalesce[Hooks](o.Hooks, NopHooks{})
	o.Metrics = coalesce[Metrics](o.Metrics, NoopMetrics{})
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
