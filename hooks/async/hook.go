// Package asynchook moves tagcache hook delivery off the caller's goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ExpiredEvery:  100, // ~every 100th lazy expiry
//	    SelfHealEvery: 1,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	c, _ := tagcache.New[Page](tagcache.Options[Page]{
//	    Namespace: "pages",
//	    Gateway:   gw,
//	    Codec:     codec.JSON[Page]{},
//	    Hooks:     hooks, // or raw if you don't want async
//	})
//
// Events are dropped when the queue is full. Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tagcache"
)

type Hooks struct {
	inner   tagcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ tagcache.Hooks = (*Hooks)(nil)

func New(inner tagcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = tagcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue or Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) ItemExpired(ns, key string) { h.try(func() { h.inner.ItemExpired(ns, key) }) }
func (h *Hooks) MarkedExpired(ns, key, marker string) {
	h.try(func() { h.inner.MarkedExpired(ns, key, marker) })
}
func (h *Hooks) SelfHeal(ns, key, reason string) {
	h.try(func() { h.inner.SelfHeal(ns, key, reason) })
}
func (h *Hooks) StoreError(op string, err error) { h.try(func() { h.inner.StoreError(op, err) }) }
