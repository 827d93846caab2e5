// Package pool provides a bounded pool of cloned instances.
//
// A Group hands out exclusive ownership of one instance per Take. It is the
// only admission control over mutable inference state: an engine taken
// from a Group belongs to the caller until Put returns it. Capacity is
// independent of CPU count; when every instance is out, Take blocks.
//
// Callers must never hold one instance while taking a second from the same
// Group, or a full pool deadlocks.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/latentrec/internal/metrics"
)

// DefaultCapacity is the pool size used when none is configured.
const DefaultCapacity = 16

// Cloner is implemented by types that can produce an independent copy of
// themselves.
type Cloner[T any] interface {
	Clone() T
}

// Group is a fixed set of instances cloned from one template.
//
// Thread-safety: Take and Put are safe for concurrent use.
type Group[T Cloner[T]] struct {
	items    chan T
	capacity int
}

// New fills a Group with capacity clones of template. A capacity of 0
// selects DefaultCapacity. The template itself is not pooled.
func New[T Cloner[T]](template T, capacity int) (*Group[T], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("pool: negative capacity %d", capacity)
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	g := &Group[T]{
		items:    make(chan T, capacity),
		capacity: capacity,
	}
	for i := 0; i < capacity; i++ {
		g.items <- template.Clone()
	}
	return g, nil
}

// Take removes an instance from the pool, blocking until one is available
// or ctx is done.
func (g *Group[T]) Take(ctx context.Context) (T, error) {
	select {
	case x := <-g.items:
		metrics.PoolWaitSeconds.Observe(0)
		return x, nil
	default:
	}

	start := time.Now()
	select {
	case x := <-g.items:
		metrics.PoolWaitSeconds.Observe(time.Since(start).Seconds())
		return x, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Put returns an instance obtained from Take. Putting more instances than
// were taken panics.
func (g *Group[T]) Put(x T) {
	select {
	case g.items <- x:
	default:
		panic("pool: Put without a matching Take")
	}
}

// Capacity returns the number of instances the Group owns.
func (g *Group[T]) Capacity() int { return g.capacity }

// Available returns the number of instances currently in the pool.
func (g *Group[T]) Available() int { return len(g.items) }
