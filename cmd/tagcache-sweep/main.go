// Command tagcache-sweep purges stale tagcache records on an interval.
//
//	tagcache-sweep -config /etc/tagcache.yaml [-once]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/config"
	zapadapter "github.com/unkn0wn-root/tagcache/log/zap"
	"github.com/unkn0wn-root/tagcache/metrics/prom"
	"github.com/unkn0wn-root/tagcache/sweep"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(ctx, os.Args[1:], zapadapter.New(zl), os.Stderr); err != nil {
		zl.Error("tagcache-sweep failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, log tagcache.Logger, stderr io.Writer) error {
	fs := flag.NewFlagSet("tagcache-sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "tagcache.yaml", "path to the YAML config")
	once := fs.Bool("once", false, "run a single sweep and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	gw, err := cfg.OpenGateway(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Close(cctx); err != nil {
			log.Warn("close gateway", tagcache.Fields{"err": err})
		}
	}()

	opts := sweep.Options{
		Gateway:   gw,
		Namespace: cfg.Sweep.Namespace,
		Interval:  cfg.Sweep.Interval,
		Grace:     cfg.Sweep.Grace,
		Logger:    log,
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.OnSweep = prom.New(reg, "tagcache", "sweep", nil).Swept

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", tagcache.Fields{"addr": cfg.MetricsAddr, "err": err})
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	s, err := sweep.New(opts)
	if err != nil {
		return err
	}
	if *once {
		n, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info("sweep done", tagcache.Fields{"removed": n})
		return nil
	}

	log.Info("sweeper started", tagcache.Fields{
		"backend":   cfg.Backend,
		"namespace": cfg.Sweep.Namespace,
		"interval":  cfg.Sweep.Interval.String(),
	})
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	log.Info("sweeper stopped", nil)
	return nil
}
