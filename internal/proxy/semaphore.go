package proxy

import "context"

// Semaphore is a concurrency cap built from a buffered channel. These
// are constructed once, eagerly, rather than lazily
// first-touch-initialized.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore builds a semaphore with the given width. A width <= 0
// means unlimited: Acquire/Release become no-ops.
func NewSemaphore(width int) *Semaphore {
	if width <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{slots: make(chan struct{}, width)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot.
func (s *Semaphore) Release() {
	if s.slots == nil {
		return
	}
	<-s.slots
}

// Semaphores bundles the two caps: PROXY_TEST_MAX_CONCURRENT_CONN and
// FETCHER_GLOBAL_CONCURRENT_CONN. Each Frame builds its own pair in
// frame.New, so a cap bounds the workers of one Frame; it is not shared
// across the Frames of a process.
type Semaphores struct {
	Test  *Semaphore
	Fetch *Semaphore
}

// NewSemaphores builds both caps eagerly from the given widths.
func NewSemaphores(testWidth, fetchWidth int) *Semaphores {
	return &Semaphores{
		Test:  NewSemaphore(testWidth),
		Fetch: NewSemaphore(fetchWidth),
	}
}
