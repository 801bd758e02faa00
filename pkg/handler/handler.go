// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"sync"

	"github.com/astradot/websocket/pkg/queue"
)

// Handler implements the application side of one WebSocket session. It
// consumes inbound payloads from in and produces outbound payloads on
// out. Returning nil ends the session cleanly; returning an error
// terminates the connection.
type Handler func(ctx context.Context, in, out *queue.Queue) error

// Registry maps subprotocol names to handlers. The empty string is a
// valid name and matches upgrade requests without a
// Sec-WebSocket-Protocol header.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to the subprotocol name, replacing any previous
// binding. Registration is expected before serving begins.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// IsRegistered reports whether a handler is bound to name.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Get returns the handler bound to name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
