// Package worker implements the Proxy Worker state machine: one
// goroutine per candidate Proxy, alternating between Unhealthy
// (self-test) and Healthy (drain the queue) until its proxy is declared
// dead or the Frame shuts down.
package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/dispatch"
	"github.com/eludehq/elude/internal/metrics"
	"github.com/eludehq/elude/internal/proxy"
	"github.com/eludehq/elude/internal/queue"
)

// selfTestBody is the shape PROXY_TEST_URL is expected to answer with:
// an echo of the caller's apparent IP, used to confirm the proxy tunnel
// is actually being used rather than silently bypassed.
type selfTestBody struct {
	IP string `json:"ip"`
}

// Worker drives one Proxy through its Unhealthy/Healthy lifecycle.
type Worker struct {
	proxy    *proxy.Proxy
	queue    *queue.Queue
	disp     *dispatch.Dispatcher
	testSem  *proxy.Semaphore
	snapshot *config.Snapshot
	log      *zap.Logger
	metrics  *metrics.Metrics

	onTerminate func(*proxy.Proxy)
}

// New builds a Worker for p. onTerminate, if non-nil, is called once when
// the proxy is permanently given up on (failed self-test or IP mismatch).
// m may be nil to disable metrics recording.
func New(p *proxy.Proxy, q *queue.Queue, disp *dispatch.Dispatcher, testSem *proxy.Semaphore, snap *config.Snapshot, log *zap.Logger, onTerminate func(*proxy.Proxy), m *metrics.Metrics) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{proxy: p, queue: q, disp: disp, testSem: testSem, snapshot: snap, log: log, onTerminate: onTerminate, metrics: m}
}

// Run drives the Unhealthy/Healthy loop until ctx is done or the proxy is
// terminated. It is meant to be launched as its own goroutine, one per
// Proxy, by the owning Frame.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.metrics != nil {
			w.metrics.RecordTransition("unhealthy")
		}
		if !w.selfTest(ctx) {
			w.log.Info("proxy terminated", zap.String("proxy", w.proxy.Addr()))
			if w.onTerminate != nil {
				w.onTerminate(w.proxy)
			}
			return
		}
		if w.metrics != nil {
			w.metrics.RecordTransition("healthy")
		}
		if !w.serveHealthy(ctx) {
			return
		}
		// serveHealthy returned because the proxy failed a live request
		// or PROXY_HEARTBEAT elapsed with no work; loop back around into
		// another self-test.
	}
}

// selfTest issues one request to PROXY_TEST_URL through the proxy and
// reports whether it should be trusted to serve real fetches. A transport
// failure, a non-JSON body, or an IP that doesn't match the proxy's own
// host all terminate the proxy outright.
func (w *Worker) selfTest(ctx context.Context) bool {
	if err := w.testSem.Acquire(ctx); err != nil {
		return false
	}
	defer w.testSem.Release()

	result, ok := proxy.FetchOne(ctx, "GET", w.snapshot.ProxyTestURL(), w.snapshot.ProxyTestTimeout(), w.proxy.Connector())
	if !ok {
		return false
	}

	var body selfTestBody
	if err := json.Unmarshal(result.Body, &body); err != nil {
		return false
	}
	if body.IP != w.proxy.Host {
		w.log.Debug("proxy self-test IP mismatch", zap.String("proxy", w.proxy.Addr()), zap.String("reported", body.IP))
		return false
	}
	return true
}

// serveHealthy drains the queue, pacing outbound requests to this proxy
// at FETCHER_FETCH_INTERVAL_PER_PROXY, until a dispatched request reports
// a retryable (proxy-implicating) failure, PROXY_HEARTBEAT elapses with
// no work to re-confirm the proxy is still good, or ctx is done. It
// reports false when the Worker should stop entirely (ctx done), true
// when it should re-enter self-test.
func (w *Worker) serveHealthy(ctx context.Context) bool {
	limiter := rate.NewLimiter(rate.Every(w.snapshot.FetcherFetchIntervalPerProxy()), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}

		getCtx, cancel := context.WithTimeout(ctx, w.snapshot.ProxyHeartbeat())
		entry, ok := w.queue.Get(getCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return false
			}
			return true // heartbeat elapsed idle: re-confirm via self-test
		}

		if w.disp.Handle(ctx, entry.Request, w.proxy) {
			return true
		}
	}
}
