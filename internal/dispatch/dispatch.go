// Package dispatch implements the RPC Dispatcher: routes one dequeued
// request to the fetch, prefetch, or update_config handler, and reports
// whether the attempt is retryable against a different proxy.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/cache"
	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/inflight"
	"github.com/eludehq/elude/internal/metrics"
	"github.com/eludehq/elude/internal/proxy"
	"github.com/eludehq/elude/internal/queue"
	"github.com/eludehq/elude/internal/rpc"
)

// Deliver is called once per request id that should receive a response.
// For fetch/prefetch this may fire many times for one outbound request,
// once for every id that coalesced onto it via the in-flight map.
type Deliver func(*rpc.Response)

// Dispatcher routes dequeued requests to their handlers. It owns the
// queue reference itself so it can re-enqueue every coalesced request
// atomically with clearing the in-flight entry on failure, instead of
// leaving that bookkeeping split across the worker.
type Dispatcher struct {
	queue    *queue.Queue
	cache    *cache.Cache
	inflight *inflight.Map
	fetchSem *proxy.Semaphore
	snapshot *config.Snapshot
	deliver  Deliver
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New builds a Dispatcher. deliver is invoked for every response the
// Dispatcher produces; it is the Frame's responsibility to route that
// response back out over whichever transport originated the request. m
// may be nil to disable metrics recording.
func New(q *queue.Queue, c *cache.Cache, inf *inflight.Map, fetchSem *proxy.Semaphore, snap *config.Snapshot, deliver Deliver, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{queue: q, cache: c, inflight: inf, fetchSem: fetchSem, snapshot: snap, deliver: deliver, log: log, metrics: m}
}

// Handle dispatches one request against p and reports retryable=true when
// the failure implicates p (a proxy transport failure) rather than the
// request itself. The caller (a Proxy Worker) uses this to decide
// whether to self-test again before serving more work.
func (d *Dispatcher) Handle(ctx context.Context, req *rpc.Request, p *proxy.Proxy) (retryable bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.Any("recovered", r), zap.String("method", req.Method))
			d.deliver(rpc.NewError(req.ID, rpc.CodeInternal, fmt.Sprintf("internal error: %v", r)))
			retryable = false
		}
	}()

	switch req.Method {
	case rpc.MethodFetch:
		return d.handleFetch(ctx, req, p, false)
	case rpc.MethodPrefetch:
		return d.handleFetch(ctx, req, p, true)
	case rpc.MethodUpdateConfig:
		return d.handleUpdateConfig(req)
	default:
		d.deliver(rpc.NewError(req.ID, rpc.CodeMethodNotFound, "Method not found"))
		return false
	}
}

func (d *Dispatcher) handleFetch(ctx context.Context, req *rpc.Request, p *proxy.Proxy, isPrefetch bool) (retryable bool) {
	var params rpc.FetchParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URL == "" {
		d.deliver(rpc.NewError(req.ID, rpc.CodeInternal, "invalid params: url is required"))
		return false
	}

	// Prefetch always caches, unconditionally: the whole point of feeding
	// the cache for free is defeated if a caller can turn it off. Only
	// fetch's cache behavior is negotiable via params.Cache.
	cacheOn := d.snapshot.FetchRequestCache()
	if params.Cache != nil {
		cacheOn = *params.Cache
	}
	if isPrefetch {
		cacheOn = true
	}

	if cacheOn {
		if body, ok := d.cache.Get(params.URL); ok {
			if d.metrics != nil {
				d.metrics.RecordCacheHit()
			}
			d.deliver(rpc.NewResult(req.ID, string(body)))
			return false
		}
		if d.metrics != nil {
			d.metrics.RecordCacheMiss()
		}
	}

	if joined := d.inflight.Begin(params.URL, req); joined {
		// Another in-flight fetch already owns this URL; we'll receive our
		// response when it completes. This dequeue is done, not retryable.
		return false
	}

	if err := d.fetchSem.Acquire(ctx); err != nil {
		// Shutting down or caller gave up; put the request (and anything
		// that joined it) back at its method's class, as if it had never
		// been dequeued.
		for _, waiter := range d.inflight.Finish(params.URL) {
			if !d.queue.Put(waiter, queue.ClassFor(waiter.Method, false)) {
				d.deliver(rpc.NewError(waiter.ID, rpc.CodeInternal, "queue full"))
			}
		}
		return false
	}
	start := time.Now()
	result, ok := proxy.FetchOne(ctx, "GET", params.URL, d.snapshot.FetchRequestTimeout(), p.Connector())
	d.fetchSem.Release()
	if d.metrics != nil {
		outcome := "failure"
		if ok {
			outcome = "success"
		}
		d.metrics.ObserveFetch(outcome, time.Since(start).Seconds())
	}

	waiters := d.inflight.Finish(params.URL)

	if !ok {
		for _, waiter := range waiters {
			failing := queue.ClassFor(waiter.Method, true)
			if !d.queue.Put(waiter, failing) {
				d.deliver(rpc.NewError(waiter.ID, rpc.CodeInternal, "queue full"))
			}
		}
		return true
	}

	if cacheOn {
		d.cache.Put(params.URL, result.Body)
		if d.metrics != nil {
			d.metrics.SetCacheBytes(d.cache.Bytes())
		}
	}
	for _, waiter := range waiters {
		d.deliver(rpc.NewResult(waiter.ID, string(result.Body)))
	}
	return false
}

func (d *Dispatcher) handleUpdateConfig(req *rpc.Request) (retryable bool) {
	var params rpc.UpdateConfigParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		d.deliver(rpc.NewError(req.ID, rpc.CodeInternal, "invalid params: expected an object"))
		return false
	}

	if err := d.snapshot.Update(params); err != nil {
		d.deliver(rpc.NewError(req.ID, rpc.CodeInternal, err.Error()))
		return false
	}

	d.deliver(rpc.NewResult(req.ID, true))
	return false
}
