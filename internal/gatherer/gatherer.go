// Package gatherer implements a periodic scraper over pluggable
// proxy-list sources that emits candidate Proxy records to subscribers.
// One source's failure never stops another.
package gatherer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eludehq/elude/internal/proxy"
)

// Candidate is the tuple a Source yields for one listed proxy.
type Candidate struct {
	Host    string
	Port    uint16
	Country string
}

// Source scrapes one proxy-listing site and returns the candidates found
// on its most recent refresh. The candidates may repeat a host:port; the
// Gatherer drops repeats within a single call (cross-source and
// cross-refresh duplicates are expected and handled downstream, since
// the worker self-test is idempotent).
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Candidate, error)
}

// Gatherer periodically refreshes every configured Source and fans new
// Proxy records out to subscribers.
type Gatherer struct {
	sources  []Source
	interval time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	subs map[int]func(*proxy.Proxy)
	next int
}

// New builds a Gatherer over the given sources, refreshing once every
// interval (PROXY_REFRESH_LIST_INTERVAL).
func New(sources []Source, interval time.Duration, log *zap.Logger) *Gatherer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gatherer{
		sources:  sources,
		interval: interval,
		log:      log,
		subs:     make(map[int]func(*proxy.Proxy)),
	}
}

// Subscribe registers fn to be called with every newly discovered Proxy.
// The returned func removes the subscription; Frame calls it on shutdown
// so the Gatherer never holds a strong, permanent back-reference into a
// torn-down Frame.
func (g *Gatherer) Subscribe(fn func(*proxy.Proxy)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.next
	g.next++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

func (g *Gatherer) notify(p *proxy.Proxy) {
	g.mu.Lock()
	fns := make([]func(*proxy.Proxy), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// Start runs the refresh loop forever, until ctx is done.
func (g *Gatherer) Start(ctx context.Context) {
	g.refreshAll(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refreshAll(ctx)
		}
	}
}

// refreshAll scrapes every source concurrently; one source's error is
// logged and skipped, never stopping the others.
func (g *Gatherer) refreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range g.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			g.refreshOne(ctx, src)
		}(src)
	}
	wg.Wait()
}

func (g *Gatherer) refreshOne(ctx context.Context, src Source) {
	candidates, err := src.Fetch(ctx)
	if err != nil {
		g.log.Warn("proxy source refresh failed", zap.String("source", src.Name()), zap.Error(err))
		return
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		g.notify(&proxy.Proxy{
			Host:    c.Host,
			Port:    c.Port,
			Country: c.Country,
			Source:  src.Name(),
		})
	}

	g.log.Debug("proxy source refreshed", zap.String("source", src.Name()), zap.Int("candidates", len(seen)))
}
