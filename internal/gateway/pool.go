package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("dispatch pool is shut down")

// dispatchPool bounds the number of messages being handled at once
// across all connections. Each connection submits its messages one at a
// time and waits, so per-connection arrival order is preserved while
// the pool applies backpressure globally.
type dispatchPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newDispatchPool(size int) *dispatchPool {
	if size <= 0 {
		size = 1
	}
	return &dispatchPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// run executes fn in the caller's goroutine once a slot is free. It
// blocks at capacity and respects context cancellation while waiting.
func (p *dispatchPool) run(ctx context.Context, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Re-check closed after acquiring the slot, in case shutdown raced.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	defer func() {
		<-p.sem
		p.wg.Done()
	}()
	fn()
	return nil
}

// shutdown stops accepting work and waits for in-flight handlers.
func (p *dispatchPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}
