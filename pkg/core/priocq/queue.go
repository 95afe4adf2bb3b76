// Package priocq provides the outbound queue of a link: strict priority
// between classes, FIFO within a class, bounded per class.
package priocq

import (
	"context"
	"errors"
	"sync"
)

// Class is a priority class. Lower values are dequeued first.
type Class int

const (
	// Signal carries connection liveness traffic.
	Signal Class = iota
	// Data carries application packets.
	Data
	numClasses
)

func (c Class) String() string {
	switch c {
	case Signal:
		return "signal"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

var (
	// ErrFull is returned by Push when the class is at its limit.
	ErrFull = errors.New("priocq: queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("priocq: queue closed")
)

// Queue is a bounded multi-class FIFO. Any number of goroutines may Push;
// Pop expects a single consumer.
type Queue[T any] struct {
	limit int

	mu     sync.Mutex
	levels [numClasses][]T
	closed bool

	ready chan struct{}
	done  chan struct{}
}

// New returns a queue holding at most limit items per class. A limit of
// zero or less means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v to class c.
func (q *Queue[T]) Push(c Class, v T) error {
	if c < 0 || c >= numClasses {
		c = Data
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.limit > 0 && len(q.levels[c]) >= q.limit {
		q.mu.Unlock()
		return ErrFull
	}
	q.levels[c] = append(q.levels[c], v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for c := range q.levels {
		if l := q.levels[c]; len(l) > 0 {
			v := l[0]
			var zero T
			l[0] = zero
			q.levels[c] = l[1:]
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Pop removes the oldest item of the highest priority class, blocking until
// one is available. It fails with ErrClosed once the queue is closed, even
// if items remain, and with ctx's error when ctx ends.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case <-q.done:
			return zero, ErrClosed
		default:
		}
		if v, ok := q.tryPop(); ok {
			return v, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items across classes.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, l := range q.levels {
		n += len(l)
	}
	return n
}

// Close rejects further pushes, wakes the consumer and returns the items
// that were never popped, highest priority first.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	var rest []T
	for c := range q.levels {
		rest = append(rest, q.levels[c]...)
		q.levels[c] = nil
	}
	return rest
}
