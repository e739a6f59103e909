package host

import (
	"errors"

	"github.com/panjf2000/ants/v2"

	"github.com/zioncity/flvsource/media"
)

// Pool dispatches work items on a fixed-size goroutine pool. It backs the
// source's asynchronous operations and the byte streams' read completions.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a dispatcher with size pooled workers.
func NewPool(size int) (*Pool, error) {
	// Non-blocking submission: the source dispatches while holding its
	// mutex, and a submit that waited for a worker stuck behind that same
	// mutex would deadlock. Overload falls back to a plain goroutine.
	p, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

// Dispatch submits one work item. When all workers are busy the item runs
// on its own goroutine instead of waiting.
func (p *Pool) Dispatch(fn func()) error {
	err := p.pool.Submit(fn)
	if errors.Is(err, ants.ErrPoolOverload) {
		go fn()
		return nil
	}
	return err
}

// Release tears the pool down. Outstanding work items finish first.
func (p *Pool) Release() {
	p.pool.Release()
}

var _ media.Dispatcher = (*Pool)(nil)
