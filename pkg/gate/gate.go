// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gate provides the shutdown barrier used by the server to track
// in-flight background work. Accept loops and connection-processing
// tasks register with the gate; Stop closes the gate, which refuses new
// registrations and waits for everything already registered to finish.
package gate

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enter once the gate has begun closing.
var ErrClosed = errors.New("gate closed")

// Gate is a counter of live tasks with a close barrier. The zero value
// is not usable; call New.
type Gate struct {
	mu      sync.Mutex
	count   int
	closing bool
	drained bool
	done    chan struct{}
}

// New returns an open gate.
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Enter registers one task. It fails with ErrClosed if the gate has
// started closing; the caller must not run the task in that case.
func (g *Gate) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return ErrClosed
	}
	g.count++
	return nil
}

// Leave deregisters one task. Every successful Enter must be paired with
// exactly one Leave.
func (g *Gate) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		panic("gate: Leave without matching Enter")
	}
	g.count--
	if g.closing && g.count == 0 {
		g.signalDrained()
	}
}

// Close begins draining: subsequent Enter calls fail, and Close blocks
// until every registered task has left or ctx ends. Close may be called
// more than once; all callers observe the same barrier.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	if g.count == 0 {
		g.signalDrained()
	}
	g.mu.Unlock()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of currently registered tasks.
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// signalDrained closes the barrier channel once. Callers hold g.mu.
func (g *Gate) signalDrained() {
	if !g.drained {
		g.drained = true
		close(g.done)
	}
}
