// Package inflight implements the in-flight map: URL to the set of
// requests awaiting the same in-progress fetch. A URL appears in the
// map iff a worker has begun but not finished fetching it.
package inflight

import (
	"sync"

	"github.com/eludehq/elude/internal/rpc"
)

// Map tracks, per URL, the set of requests waiting on one outbound fetch.
// It is owned by exactly one Server Frame. The full request (not just its
// id) is kept so that a joiner can be faithfully re-enqueued, at its own
// method's priority class, if the owning fetch ultimately fails. This is
// what lets "exactly one response per id" survive coalescing across
// proxy failures.
type Map struct {
	mu sync.Mutex
	m  map[string]map[string]*rpc.Request
}

// New builds an empty in-flight map.
func New() *Map {
	return &Map{m: make(map[string]map[string]*rpc.Request)}
}

// Begin registers req as waiting on url. It reports joined=true if some
// other request already started a fetch for url. The caller must not
// start a second outbound fetch in that case, since the owning worker
// will deliver to every request in the set once the single fetch
// completes.
func (m *Map) Begin(url string, req *rpc.Request) (joined bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs, exists := m.m[url]
	if !exists {
		reqs = make(map[string]*rpc.Request)
		m.m[url] = reqs
	}
	reqs[string(req.ID)] = req
	return exists
}

// Finish removes url from the map and returns every request that had
// joined the in-flight fetch, in no particular order.
func (m *Map) Finish(url string) []*rpc.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs, ok := m.m[url]
	if !ok {
		return nil
	}
	delete(m.m, url)

	out := make([]*rpc.Request, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r)
	}
	return out
}

// Len returns the number of URLs currently in flight.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}
