// Package queue implements a FIFO-within-priority queue of pending RPC
// requests, bounded, with a blocking Get suspension point.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/eludehq/elude/internal/rpc"
)

// Class is a priority class. Lower ranks are served first: new work
// outranks retries, and prefetches (which feed the cache for free)
// outrank explicit fetches.
type Class int

const (
	ClassPrefetch Class = iota
	ClassFetch
	ClassNeutral
	ClassFailingNeutral
	ClassFailingPrefetch
	ClassFailingFetch
)

// ClassFor computes the priority class for a request's method, optionally
// downgraded because it previously failed against a proxy.
func ClassFor(method string, failing bool) Class {
	switch method {
	case rpc.MethodPrefetch:
		if failing {
			return ClassFailingPrefetch
		}
		return ClassPrefetch
	case rpc.MethodFetch:
		if failing {
			return ClassFailingFetch
		}
		return ClassFetch
	default:
		if failing {
			return ClassFailingNeutral
		}
		return ClassNeutral
	}
}

// Entry is one queued request paired with its priority key.
type Entry struct {
	Class   Class
	Seq     uint64
	Request *rpc.Request
}

// Queue is a bounded, blocking priority queue. The zero value is not
// usable; construct with New.
type Queue struct {
	maxDepth int

	mu    sync.Mutex
	heap  entryHeap
	seq   atomic.Uint64
	items chan struct{} // one token per queued entry; bounds + wakes Get
}

// New builds a Queue bounded to maxDepth entries. maxDepth <= 0 means
// unbounded (back-pressure disabled, not recommended).
func New(maxDepth int) *Queue {
	if maxDepth <= 0 {
		maxDepth = 1<<31 - 1
	}
	return &Queue{
		maxDepth: maxDepth,
		items:    make(chan struct{}, maxDepth),
	}
}

// Put enqueues a request at the given class. It is non-blocking: if the
// queue is at its bound, it returns false immediately and enqueues
// nothing, so callers can answer with a -32000 "queue full" response
// rather than let the queue grow unbounded.
func (q *Queue) Put(req *rpc.Request, class Class) bool {
	q.mu.Lock()
	if len(q.heap) >= q.maxDepth {
		q.mu.Unlock()
		return false
	}
	heap.Push(&q.heap, &Entry{Class: class, Seq: q.seq.Add(1), Request: req})
	q.mu.Unlock()

	select {
	case q.items <- struct{}{}:
	default:
		// Should not happen given the bound check above, but never block
		// a producer indefinitely over a benign race.
	}
	return true
}

// Get blocks until an entry is available or ctx is done, then returns the
// highest-priority, earliest entry queued.
func (q *Queue) Get(ctx context.Context) (*Entry, bool) {
	select {
	case <-q.items:
	case <-ctx.Done():
		return nil, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	e := heap.Pop(&q.heap).(*Entry)
	return e, true
}

// Len returns the current number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Class != h[j].Class {
		return h[i].Class < h[j].Class
	}
	return h[i].Seq < h[j].Seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*Entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
