// Package frame implements the Server Frame: the owner of one queue,
// cache, in-flight map, config snapshot and pool of
// Proxy Workers, subscribed to a shared Gatherer. A process can run
// several Frames side by side, one per transport, each with its own
// independently mutable config snapshot but sharing nothing else unless
// the caller wires them to share a cache or queue explicitly.
package frame

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/cache"
	"github.com/eludehq/elude/internal/config"
	"github.com/eludehq/elude/internal/dispatch"
	"github.com/eludehq/elude/internal/gatherer"
	"github.com/eludehq/elude/internal/inflight"
	"github.com/eludehq/elude/internal/metrics"
	"github.com/eludehq/elude/internal/proxy"
	"github.com/eludehq/elude/internal/queue"
	"github.com/eludehq/elude/internal/rpc"
	"github.com/eludehq/elude/internal/worker"
)

// Frame owns one Priority Request Queue, Response Cache, In-Flight Map
// and Config Snapshot, and runs one Proxy Worker per live proxy the
// Gatherer has reported. ProcessResponse is supplied by the embedding
// transport adapter to route a finished response back to its caller.
type Frame struct {
	Queue    *queue.Queue
	Cache    *cache.Cache
	Inflight *inflight.Map
	Snapshot *config.Snapshot
	Sems     *proxy.Semaphores
	disp     *dispatch.Dispatcher
	log      *zap.Logger

	name    string
	metrics *metrics.Metrics

	gatherer    *gatherer.Gatherer
	unsubscribe func()

	mu      sync.Mutex
	workers map[string]context.CancelFunc

	ProcessResponse func(*rpc.Response)
}

// New builds a Frame around base, wired to g for proxy discovery. name
// identifies this Frame's transport for metrics labeling (e.g.
// "websocket"); m may be nil to disable metrics recording entirely.
// ProcessResponse must be set by the caller before Start is invoked.
func New(base config.Config, g *gatherer.Gatherer, name string, log *zap.Logger, m *metrics.Metrics) *Frame {
	if log == nil {
		log = zap.NewNop()
	}

	snap := config.NewSnapshot(base)
	f := &Frame{
		Queue:    queue.New(base.QueueMaxDepth),
		Cache:    cache.New(base.FetchRequestCacheMaxSize, base.FetchRequestCacheTimeout),
		Inflight: inflight.New(),
		Snapshot: snap,
		Sems:     proxy.NewSemaphores(base.ProxyTestMaxConcurrentConn, base.FetcherGlobalConcurrentConn),
		log:      log,
		name:     name,
		metrics:  m,
		gatherer: g,
		workers:  make(map[string]context.CancelFunc),
	}
	f.disp = dispatch.New(f.Queue, f.Cache, f.Inflight, f.Sems.Fetch, f.Snapshot, f.deliver, log, m)
	return f
}

func (f *Frame) deliver(resp *rpc.Response) {
	if f.ProcessResponse != nil {
		f.ProcessResponse(resp)
	}
}

// PutRequest enqueues req at the priority class implied by its method and
// failing status. It reports false if the queue is at its bound, so the
// caller (a transport adapter) should answer the request with a -32000
// "queue full" error rather than blocking indefinitely.
func (f *Frame) PutRequest(req *rpc.Request, failing bool) bool {
	ok := f.Queue.Put(req, queue.ClassFor(req.Method, failing))
	if ok && f.metrics != nil {
		f.metrics.SetQueueDepth(f.name, f.Queue.Len())
	}
	return ok
}

// Start subscribes to the Gatherer, spawning one Worker per newly
// discovered Proxy, until ctx is done.
func (f *Frame) Start(ctx context.Context) {
	f.unsubscribe = f.gatherer.Subscribe(func(p *proxy.Proxy) {
		f.spawnWorker(ctx, p)
	})

	<-ctx.Done()
	f.Stop()
}

// Stop unsubscribes from the Gatherer and cancels every live Worker.
func (f *Frame) Stop() {
	if f.unsubscribe != nil {
		f.unsubscribe()
	}

	f.mu.Lock()
	for _, cancel := range f.workers {
		cancel()
	}
	f.workers = make(map[string]context.CancelFunc)
	f.mu.Unlock()
	f.reportPoolSize()
}

func (f *Frame) spawnWorker(ctx context.Context, p *proxy.Proxy) {
	f.mu.Lock()
	if _, exists := f.workers[p.Addr()]; exists {
		f.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	f.workers[p.Addr()] = cancel
	f.mu.Unlock()
	f.reportPoolSize()

	w := worker.New(p, f.Queue, f.disp, f.Sems.Test, f.Snapshot, f.log, func(dead *proxy.Proxy) {
		f.mu.Lock()
		delete(f.workers, dead.Addr())
		f.mu.Unlock()
		f.reportPoolSize()
	}, f.metrics)

	go w.Run(workerCtx)
}

// WorkerCount reports the number of currently live proxy workers.
func (f *Frame) WorkerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workers)
}

func (f *Frame) reportPoolSize() {
	if f.metrics != nil {
		f.metrics.SetPoolSize(f.name, f.WorkerCount())
	}
}
