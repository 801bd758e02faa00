// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the bounded message queue that connects a
// connection's frame loops to its application handler. Push blocks when
// the queue is full and Pop blocks when it is empty, which is the
// backpressure mechanism between the wire and the handler. Closing a
// queue wakes every blocked producer and consumer.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push and Pop after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// DefaultCapacity is used when a queue is created with a non-positive
// capacity.
const DefaultCapacity = 64

// Queue is a bounded FIFO of opaque byte payloads, safe for concurrent
// producers and consumers.
type Queue struct {
	payloads chan []byte
	done     chan struct{}
	once     sync.Once
}

// New returns a queue holding at most capacity payloads.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		payloads: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
}

// Push appends payload, blocking while the queue is full. It returns
// ErrClosed once the queue is closed and ctx.Err() if the context ends
// first.
func (q *Queue) Push(ctx context.Context, payload []byte) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.payloads <- payload:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest payload, blocking while the queue is empty.
// Payloads buffered before Close are still delivered; once drained, Pop
// returns ErrClosed.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case p := <-q.payloads:
		return p, nil
	default:
	}
	select {
	case p := <-q.payloads:
		return p, nil
	case <-q.done:
		// A push may have landed between the two selects.
		select {
		case p := <-q.payloads:
			return p, nil
		default:
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the queue closed and wakes all blocked producers and
// consumers. Close is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}

// Len returns the number of buffered payloads.
func (q *Queue) Len() int {
	return len(q.payloads)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.payloads)
}
