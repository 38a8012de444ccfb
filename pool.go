package markref

import (
	"context"
	"runtime"
	"sync"
)

// Pool sizing constants.
const (
	// MinPoolSize ensures at least one worker is available.
	MinPoolSize = 1

	// MaxPoolSize caps concurrent renders; each one holds a parsed DOM.
	MaxPoolSize = 16
)

// RendererPool bounds concurrent renders. Renderers share their options
// and are created lazily on first acquire.
type RendererPool struct {
	size      int
	opts      []Option
	renderers chan *Renderer
	mu        sync.Mutex
	created   int
	closed    bool
}

// NewRendererPool creates a pool with capacity for n renderers built with
// opts. Renderers are created when acquired, not at pool creation.
func NewRendererPool(n int, opts ...Option) *RendererPool {
	if n < 1 {
		n = 1
	}
	return &RendererPool{
		size:      n,
		opts:      opts,
		renderers: make(chan *Renderer, n),
	}
}

// Acquire gets a renderer from the pool, creating one if needed. It blocks
// while all renderers are in use, until ctx is done.
func (p *RendererPool) Acquire(ctx context.Context) (*Renderer, error) {
	// Try to get an existing renderer (non-blocking)
	select {
	case r, ok := <-p.renderers:
		if !ok {
			return nil, ErrPoolClosed
		}
		return r, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.created < p.size {
		p.created++
		p.mu.Unlock()

		// Create outside the lock
		r, err := NewRenderer(p.opts...)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return r, nil
	}
	p.mu.Unlock()

	select {
	case r, ok := <-p.renderers:
		if !ok {
			return nil, ErrPoolClosed
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a renderer to the pool. The send happens under the lock
// so it cannot race with Close; the buffer always has room for every
// renderer the pool created.
func (p *RendererPool) Release(r *Renderer) {
	if r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.renderers <- r
	}
}

// Close stops the pool. Later Acquire calls return ErrPoolClosed.
func (p *RendererPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.renderers)
	return nil
}

// Size returns the pool capacity.
func (p *RendererPool) Size() int {
	return p.size
}

// ResolvePoolSize determines the pool size.
// Priority: explicit workers > GOMAXPROCS-based calculation.
func ResolvePoolSize(workers int) int {
	if workers > 0 {
		return workers
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers
	n := runtime.GOMAXPROCS(0)
	if n < MinPoolSize {
		return MinPoolSize
	}
	if n > MaxPoolSize {
		return MaxPoolSize
	}
	return n
}
