package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/dashboard"
	"github.com/eludehq/elude/internal/frame"
	"github.com/eludehq/elude/internal/gatherer"
	"github.com/eludehq/elude/internal/logging"
	"github.com/eludehq/elude/internal/metrics"
	"github.com/eludehq/elude/internal/transport/redisq"
	"github.com/eludehq/elude/internal/transport/stdio"
	"github.com/eludehq/elude/internal/transport/wsrpc"
	"github.com/eludehq/elude/internal/transport/zeromq"
)

var serveFlags struct {
	logLevel string
	dev      bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker, serving every configured transport",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dev, "dev", false, "use a human-readable development logger")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logging.New(serveFlags.logLevel, serveFlags.dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sources := []gatherer.Source{
		&gatherer.CheckerProxySource{},
		&gatherer.LetUsHideSource{},
	}
	g := gatherer.New(sources, cfg.ProxyRefreshListInterval, log)
	go g.Start(ctx)

	// Collectors are registered once, process-wide, with the default
	// Prometheus registry; constructing a second Metrics would panic on
	// duplicate registration, so every Frame shares this one instance and
	// is told apart only by its "frame" label.
	var m *metrics.Metrics
	if cfg.Server.Metrics.Enabled {
		m = metrics.New()
	}

	// Each wire transport gets its own Frame: its own queue, cache,
	// in-flight map and proxy worker pool, rather than sharing one
	// ProcessResponse field that a second transport would clobber. All
	// frames subscribe to the same Gatherer, so they still draw from the
	// same pool of discovered proxies.
	var frames []*frame.Frame
	newFrame := func(name string) *frame.Frame {
		f := frame.New(cfg, g, name, log.With(zap.String("transport", name)), m)
		frames = append(frames, f)
		return f
	}

	var watchSnapshots []*config.Snapshot
	var adapters []func() error

	if cfg.Server.Stdio.Enabled {
		f := newFrame("stdio")
		watchSnapshots = append(watchSnapshots, f.Snapshot)
		a := &stdio.Adapter{In: os.Stdin, Out: os.Stdout, Log: log}
		adapters = append(adapters, func() error { return a.Serve(ctx, f) })
	}

	if cfg.Server.WebSocket.Enabled {
		f := newFrame("websocket")
		watchSnapshots = append(watchSnapshots, f.Snapshot)
		a := &wsrpc.Adapter{ListenAddress: cfg.Server.WebSocket.ListenAddress, Log: log}
		adapters = append(adapters, func() error { return a.Serve(ctx, f) })
	}

	if cfg.Server.ZeroMQ.Enabled {
		f := newFrame("zeromq")
		watchSnapshots = append(watchSnapshots, f.Snapshot)
		a := &zeromq.Adapter{Bind: cfg.Server.ZeroMQ.Bind, Log: log}
		adapters = append(adapters, func() error { return a.Serve(ctx, f) })
	}

	if cfg.Server.Redis.Enabled {
		f := newFrame("redis")
		watchSnapshots = append(watchSnapshots, f.Snapshot)
		client := redis.NewClient(&redis.Options{Addr: cfg.Server.Redis.Address})
		a := &redisq.Adapter{
			Client:            client,
			RequestKey:        cfg.Server.Redis.RequestKey,
			ResponseKeyPrefix: cfg.Server.Redis.ResponseKeyPrefix,
			WorkInProgressKey: cfg.Server.Redis.WorkInProgressKey,
			Log:               log,
		}
		adapters = append(adapters, func() error { return a.Serve(ctx, f) })
	}

	stopWatch, err := config.Watch(cfgFile, log, watchSnapshots...)
	if err != nil {
		log.Warn("config watch disabled", zap.Error(err))
	} else {
		defer stopWatch()
	}

	if cfg.Server.Dashboard.Enabled {
		dash := dashboard.New(frames, log)
		srv := &http.Server{Addr: cfg.Server.Dashboard.ListenAddress, Handler: dash.Handler()}
		done := make(chan struct{})
		go dash.Run(done, 3*time.Second)
		adapters = append(adapters, func() error {
			go func() {
				<-ctx.Done()
				close(done)
				srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if cfg.Server.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Server.Metrics.ListenAddress, Handler: mux}
		adapters = append(adapters, func() error {
			go func() {
				<-ctx.Done()
				srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	errc := make(chan error, len(adapters))
	for _, run := range adapters {
		go func(run func() error) { errc <- run() }(run)
	}

	<-ctx.Done()
	log.Info("shutting down")

	for range adapters {
		if err := <-errc; err != nil {
			log.Warn("adapter stopped with error", zap.Error(err))
		}
	}
	return nil
}
