package transport

import (
	"context"
	"io"
	"sync"

	"reqrep-rpc/merr"
)

// Pool keeps up to maxSize exclusive resources (connections, client handles) for reuse.
//
// A request/reply transport serves one call at a time, so parallel callers each
// borrow their own instance. A buffered channel holds the idle ones; resources are
// created lazily on demand. Discarding a resource frees its slot and wakes one
// waiting Get, which then creates a replacement.
type Pool[T io.Closer] struct {
	mu      sync.Mutex
	idle    chan T
	freed   chan struct{}
	maxSize int
	curSize int // created and not yet discarded
	closed  bool
	factory func(ctx context.Context) (T, error)
}

// NewPool creates an empty pool; factory builds a new resource when none is idle.
func NewPool[T io.Closer](maxSize int, factory func(ctx context.Context) (T, error)) (*Pool[T], error) {
	if maxSize <= 0 {
		return nil, merr.WrapErrParameterInvalid("pool size", maxSize)
	}
	return &Pool[T]{
		idle:    make(chan T, maxSize),
		freed:   make(chan struct{}, maxSize),
		maxSize: maxSize,
		factory: factory,
	}, nil
}

// Get returns an idle resource, creates one while under the limit, or waits for a
// Put or a freed slot.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case r, ok := <-p.idle:
			if !ok {
				return zero, ErrClosed
			}
			return r, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrClosed
		}
		if p.curSize < p.maxSize {
			p.curSize++
			p.mu.Unlock()
			r, err := p.factory(ctx)
			if err != nil {
				p.release()
				return zero, err
			}
			return r, nil
		}
		p.mu.Unlock()

		select {
		case r, ok := <-p.idle:
			if !ok {
				return zero, ErrClosed
			}
			return r, nil
		case <-p.freed:
			// a slot opened up; a stale signal just loops back to waiting
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// release gives back one slot and wakes a waiting Get if there is one.
func (p *Pool[T]) release() {
	p.mu.Lock()
	p.curSize--
	p.mu.Unlock()
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Put returns r to the pool. Pass broken=true to close and discard it instead.
func (p *Pool[T]) Put(r T, broken bool) {
	p.mu.Lock()
	if broken || p.closed {
		p.mu.Unlock()
		_ = r.Close()
		p.release()
		return
	}
	p.idle <- r
	p.mu.Unlock()
}

// Len reports how many resources exist, idle or borrowed.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curSize
}

// Close closes the idle resources. Borrowed ones are closed when they are Put back.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	var errs []error
	for r := range p.idle {
		errs = append(errs, r.Close())
		p.curSize--
	}
	return merr.Combine(errs...)
}
