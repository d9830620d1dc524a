// Package sweep purges stale records out of band.
//
// The cache never deletes on read: expired records and MarkExpired markers
// stay in the store until a Sweeper removes them. A record is stale when it
// is manually expired or TTL-bound and its expireAt is older than now
// minus the grace period.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/store"
)

type Options struct {
	Gateway store.Gateway

	// Namespace limits the sweep; "" sweeps every namespace of the store.
	Namespace string
	// Interval between runs started by Start; <= 0 => one minute.
	Interval time.Duration
	// Grace keeps stale records around a little longer; negative => 0.
	Grace time.Duration

	Logger tagcache.Logger // if nil, NopLogger is used
	// OnSweep observes every run (metrics).
	OnSweep func(removed int64, took time.Duration, err error)

	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// Sweeper runs DeleteMany with a stale filter, once or on a ticker.
type Sweeper struct {
	gw       store.Gateway
	ns       string
	interval time.Duration
	grace    time.Duration
	log      tagcache.Logger
	onSweep  func(int64, time.Duration, error)
	now      func() time.Time

	mu     sync.Mutex
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(opts Options) (*Sweeper, error) {
	if opts.Gateway == nil {
		return nil, store.ConfigError("sweep", "gateway is required")
	}
	s := &Sweeper{
		gw:       opts.Gateway,
		ns:       opts.Namespace,
		interval: opts.Interval,
		grace:    opts.Grace,
		log:      opts.Logger,
		onSweep:  opts.OnSweep,
		now:      opts.Clock,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.grace < 0 {
		s.grace = 0
	}
	if s.log == nil {
		s.log = tagcache.NopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Filter returns the stale filter a run started at now would use.
func (s *Sweeper) Filter(now time.Time) store.Filter {
	return store.Filter{
		Namespace:     s.ns,
		AllNamespaces: s.ns == "",
		StaleBefore:   now.Add(-s.grace),
	}
}

// RunOnce removes stale records and reports how many were removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := s.now()
	n, err := s.gw.DeleteMany(ctx, s.Filter(start))
	took := s.now().Sub(start)
	if s.onSweep != nil {
		s.onSweep(n, took, err)
	}
	if err != nil {
		s.log.Error("sweep failed", tagcache.Fields{"ns": s.ns, "err": err})
		return n, err
	}
	if n > 0 {
		s.log.Info("swept stale records", tagcache.Fields{"ns": s.ns, "removed": n, "took": took})
	}
	return n, nil
}

// Start runs RunOnce every Interval until Stop or ctx is done. Calling
// Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.stopCh = make(chan struct{})
	ticker, stopCh := s.ticker, s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.C:
				_, _ = s.RunOnce(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight run. Safe to call
// multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.ticker.Stop() // stop ticker before waiting
	s.stopCh, s.ticker = nil, nil
	s.mu.Unlock()
	s.wg.Wait()
}
