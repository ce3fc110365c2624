package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/health"
)

type watchOpts struct {
	mine        bool
	past        bool
	once        bool
	remount     string
	metricsAddr string
	interval    time.Duration
}

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var o watchOpts
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the live upcoming feed",
		Long: "Stream the live upcoming feed. \"Now\" is fixed when the view opens; " +
			"use --remount to reopen it on a cron schedule so past events drop off.",
		Args: cobra.NoArgs,
		RunE: withApp(flags, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
			if o.metricsAddr == "" {
				o.metricsAddr = a.cfg.MetricsAddr
			}
			return runWatch(ctx, cmd.OutOrStdout(), a, o)
		}),
	}
	cmd.Flags().BoolVar(&o.mine, "mine", false, "Only events you posted")
	cmd.Flags().BoolVar(&o.past, "past", false, "Include events that already started")
	cmd.Flags().BoolVar(&o.once, "once", false, "Print the initial snapshot and exit")
	cmd.Flags().StringVar(&o.remount, "remount", "", "Cron spec for reopening the view, e.g. \"@every 1h\" or \"0 4 * * *\"")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (overrides PDXFEED_METRICS_ADDR)")
	cmd.Flags().DurationVar(&o.interval, "health-interval", 15*time.Second, "Doc store probe interval")
	return cmd
}

func runWatch(ctx context.Context, w io.Writer, a *app, o watchOpts) error {
	opts, err := subscribeOptions(a, o.mine, o.past)
	if err != nil {
		return err
	}
	v, err := a.client.SubscribeCurrent(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()
	printSnapshot(w, v.Snapshot(), a.loc)
	if o.once {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.metricsAddr != "" {
		svc := health.NewServiceHealthChecker(a.log,
			health.NewPingChecker("docstore", a.backends.Store, a.log, 2*time.Second))
		go svc.Start(ctx, o.interval)
		errCh := serveHTTP(ctx, o.metricsAddr, newRouter(svc), a.log)
		go func() {
			if err := <-errCh; err != nil {
				a.log.Error().Stack().Err(err).Msg("metrics listener failed")
				cancel()
			}
		}()
	}

	remount := make(chan struct{}, 1)
	if o.remount != "" {
		c := cron.New(cron.WithLocation(a.loc))
		if _, err := c.AddFunc(o.remount, func() {
			select {
			case remount <- struct{}{}:
			default:
			}
		}); err != nil {
			return fmt.Errorf("--remount %q: %w", o.remount, err)
		}
		c.Start()
		defer c.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-v.Updates():
			if !ok {
				return feed.ErrViewClosed
			}
			printSnapshot(w, v.Snapshot(), a.loc)
		case <-remount:
			nv, err := a.client.SubscribeCurrent(ctx, opts...)
			if err != nil {
				a.log.Warn().Err(err).Msg("remount failed; keeping the current view")
				continue
			}
			_ = v.Close()
			v = nv
			a.log.Info().Time("now", v.Now()).Msg("view remounted")
			printSnapshot(w, v.Snapshot(), a.loc)
		}
	}
}

// newRouter serves Prometheus metrics and the aggregated health flag.
func newRouter(svc *health.ServiceHealthChecker) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "UP", http.StatusOK
		if !svc.IsHealthy() {
			status, code = "DOWN", http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "failing": svc.Unhealthy()})
	}).Methods(http.MethodGet)
	return r
}

// serveHTTP runs until ctx ends. The channel reports a listener failure.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) <-chan error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return errCh
}
