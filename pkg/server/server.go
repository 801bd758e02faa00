// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"

	wserrors "github.com/astradot/websocket/pkg/errors"
	"github.com/astradot/websocket/pkg/gate"
	"github.com/astradot/websocket/pkg/handler"
	"github.com/astradot/websocket/pkg/metrics"
	"github.com/astradot/websocket/pkg/ratelimit"
)

// Config holds the server configuration.
type Config struct {
	// QueueCapacity bounds each connection's inbound and outbound
	// message queues. Zero selects queue.DefaultCapacity.
	QueueCapacity int

	// MaxFramePayload bounds a single inbound frame's payload. Zero
	// selects frame.DefaultMaxPayload.
	MaxFramePayload int64

	// WorkerPoolSize caps the number of goroutines processing
	// connections. Zero selects a default of 10000.
	WorkerPoolSize int

	// AcceptCapacity and AcceptRefill configure the optional accept
	// rate limiter (token bucket capacity and tokens per second). Both
	// zero disables limiting.
	AcceptCapacity int64
	AcceptRefill   int64

	// Metrics is optional Prometheus instrumentation. Nil disables it.
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server owns a set of listeners and the registry of live connections.
// It accepts connections, runs each through the upgrade handshake and
// frame loops, and coordinates shutdown: Stop aborts accepts, drives
// every live connection through the close handshake, and waits for all
// in-flight work under a shutdown barrier.
type Server struct {
	cfg      Config
	registry *handler.Registry
	gate     *gate.Gate
	pool     *ants.Pool
	limiter  *ratelimit.TokenBucket

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*Conn]struct{}
	stopping  bool

	connNum atomic.Int32
}

const defaultWorkerPoolSize = 10000

// New creates a server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkerPoolSize
	}

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		registry: handler.NewRegistry(),
		gate:     gate.New(),
		pool:     pool,
		conns:    make(map[*Conn]struct{}),
	}
	if cfg.AcceptCapacity > 0 && cfg.AcceptRefill > 0 {
		s.limiter = ratelimit.NewTokenBucket(cfg.AcceptCapacity, cfg.AcceptRefill)
	}
	return s, nil
}

// RegisterHandler binds a subprotocol name to h. The empty name matches
// upgrade requests without a Sec-WebSocket-Protocol header. Registration
// is expected before serving begins.
func (s *Server) RegisterHandler(name string, h handler.Handler) {
	s.registry.Register(name, h)
}

// IsHandlerRegistered reports whether a handler is bound to name.
func (s *Server) IsHandlerRegistered(name string) bool {
	return s.registry.IsRegistered(name)
}

// Listen opens a TCP listener on addr and starts an accept loop for it,
// registered under the shutdown barrier. Multiple listeners may be
// opened on one server.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		l.Close()
		return wserrors.ErrServerStopped
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	if err := s.gate.Enter(); err != nil {
		l.Close()
		return wserrors.ErrServerStopped
	}
	go func() {
		defer s.gate.Leave()
		s.acceptLoop(l)
	}()

	s.cfg.Logger.Info("websocket server listening", slog.String("address", l.Addr().String()))
	return nil
}

// Addrs returns the bound addresses of all open listeners.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// ConnCount returns the number of live connections in the registry.
func (s *Server) ConnCount() int {
	return int(s.connNum.Load())
}

// acceptLoop accepts connections until the listener is closed. A closed
// listener during Stop is expected and not logged as an error; any other
// accept failure is logged and ends the loop for this listener.
func (s *Server) acceptLoop(l net.Listener) {
	for {
		raw, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Error("accept failed", slog.String("error", err.Error()))
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.cfg.Logger.Debug("connection rejected by accept limiter",
				slog.String("remote", raw.RemoteAddr().String()))
			s.cfg.Metrics.AcceptRejected()
			raw.Close()
			continue
		}

		if err := s.gate.Enter(); err != nil {
			raw.Close()
			return
		}

		c := newConn(s, raw)
		s.addConn(c)

		err = s.pool.Submit(func() {
			defer s.gate.Leave()
			defer s.removeConn(c)
			c.process(context.Background())
		})
		if err != nil {
			// Pool released during Stop.
			s.removeConn(c)
			s.gate.Leave()
			raw.Close()
			return
		}
	}
}

// Stop shuts the server down: abort pending accepts, shut down the input
// half of every live connection so in-flight decode loops observe EOF
// and run the close handshake, wait for all registered work under the
// barrier, then force-close anything still registered, ignoring
// individual close errors.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	listeners := make([]net.Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}

	// Snapshot the registry only after the listeners are closed, so
	// connections accepted while Stop was starting are included.
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cfg.Logger.Info("stopping websocket server", slog.Int("connections", len(conns)))

	for _, c := range conns {
		c.shutdownInput()
	}

	gateErr := s.gate.Close(ctx)

	s.mu.Lock()
	remaining := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		remaining = append(remaining, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range remaining {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.close(true)
		}(c)
	}
	wg.Wait()

	s.pool.Release()

	if gateErr != nil {
		s.cfg.Logger.Warn("shutdown barrier did not drain", slog.String("error", gateErr.Error()))
		return gateErr
	}
	s.cfg.Logger.Info("websocket server stopped")
	return nil
}

// addConn registers c. A connection is a registry member from the start
// of processing until removeConn.
func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.connNum.Inc()
	s.cfg.Metrics.ConnOpened()
}

// removeConn removes c from the registry unconditionally.
func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.connNum.Dec()
	s.cfg.Metrics.ConnClosed()
}
