// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	wserrors "github.com/astradot/websocket/pkg/errors"
	"github.com/astradot/websocket/pkg/frame"
	"github.com/astradot/websocket/pkg/handler"
	"github.com/astradot/websocket/pkg/handshake"
	"github.com/astradot/websocket/pkg/queue"
)

// Conn owns one accepted stream for its whole lifetime: it runs the
// upgrade handshake, then drives the inbound frame loop, the outbound
// frame loop, and the application handler concurrently. Failure or clean
// termination of any of the three closes the shared queues and shuts
// down the transport halves, which the others observe at their next
// suspension point.
type Conn struct {
	id  string
	srv *Server
	raw net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer
	dec *frame.Decoder

	handler     handler.Handler
	subprotocol string

	in  *queue.Queue
	out *queue.Queue

	done      atomic.Bool
	closeOnce sync.Once

	// wmu serializes outbound frames: the response loop and a close
	// echo must never interleave their bytes.
	wmu sync.Mutex

	logger *slog.Logger
}

func newConn(s *Server, raw net.Conn) *Conn {
	id := uuid.New().String()
	br := bufio.NewReader(raw)
	return &Conn{
		id:  id,
		srv: s,
		raw: raw,
		br:  br,
		bw:  bufio.NewWriter(raw),
		dec: frame.NewDecoder(br, s.cfg.MaxFramePayload),
		in:  queue.New(s.cfg.QueueCapacity),
		out: queue.New(s.cfg.QueueCapacity),
		logger: s.cfg.Logger.With(
			slog.String("conn", id),
			slog.String("remote", raw.RemoteAddr().String())),
	}
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

// Subprotocol returns the negotiated subprotocol, empty before the
// handshake completes.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// process runs the inbound and outbound frame loops to completion. Any
// error from either loop has already driven the close state machine, so
// it is logged and swallowed here.
func (c *Conn) process(ctx context.Context) {
	defer c.raw.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.responseLoop(gctx) })
	if err := g.Wait(); err != nil {
		c.logger.Debug("connection processing failed", slog.String("error", err.Error()))
	}

	// Terminal state regardless of how the loops exited.
	c.close(false)
	c.logger.Debug("connection finished")
}

// readLoop runs the handshake, then the application handler and the
// decode loop concurrently. A handler failure first shuts down the input
// half, unblocking the decode loop, and is then surfaced.
func (c *Conn) readLoop(ctx context.Context) error {
	res, err := handshake.Upgrade(c.br, c.bw, c.srv.registry, c.logger)
	if err != nil {
		c.srv.cfg.Metrics.HandshakeFailed()
		// The peer never became a WebSocket endpoint; tear down
		// without a close frame.
		c.close(false)
		return wserrors.New("handshake", c.id, "", c.raw.RemoteAddr().String(), err)
	}
	if res.EOF {
		c.close(false)
		return nil
	}

	c.handler = res.Handler
	c.subprotocol = res.Subprotocol

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.handler(gctx, c.in, c.out); err != nil {
			c.shutdownInput()
			return wserrors.New("handler", c.id, c.subprotocol, c.raw.RemoteAddr().String(), err)
		}
		// Session logic is done; initiate the close handshake.
		c.close(true)
		return nil
	})
	g.Go(func() error {
		for !c.done.Load() {
			if err := c.readOne(gctx); err != nil {
				return err
			}
		}
		return nil
	})
	err = g.Wait()

	c.shutdownInput()
	return err
}

// readOne decodes and dispatches exactly one frame. Close initiation
// paths return nil; the caller's loop exits through the done flag.
func (c *Conn) readOne(ctx context.Context) error {
	f, err := c.dec.Decode()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// Clean end of stream on a frame boundary: close without echo.
		c.logger.Debug("peer closed the stream")
		c.close(false)
		return nil
	default:
		// Abrupt termination: attempt the close echo, then tear down.
		c.logger.Debug("frame decode failed", slog.String("error", err.Error()))
		c.close(true)
		return nil
	}

	c.srv.cfg.Metrics.FrameReceived(f.Opcode.String(), len(f.Payload))

	switch f.Opcode {
	case frame.OpContinuation, frame.OpText, frame.OpBinary:
		// Continuation, text and binary frames are delivered uniformly
		// as data.
		if err := c.in.Push(ctx, f.Payload); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
	case frame.OpClose:
		c.logger.Debug("received close frame")
		c.close(true)
	case frame.OpPing:
		c.logger.Debug("received ping frame")
		return c.sendFrame(frame.OpPong, f.Payload)
	case frame.OpPong:
		c.logger.Debug("received pong frame")
	default:
		// Unrecognized opcode, ignore.
	}
	return nil
}

// responseLoop pops payloads from the outbound queue and writes them as
// binary frames, strictly in dequeue order.
func (c *Conn) responseLoop(ctx context.Context) error {
	for !c.done.Load() {
		payload, err := c.out.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		if err := c.sendFrame(frame.OpBinary, payload); err != nil {
			c.close(false)
			return wserrors.New("write", c.id, c.subprotocol, c.raw.RemoteAddr().String(), err)
		}
	}
	return nil
}

// sendFrame writes one frame and flushes. The write mutex keeps header
// and payload atomic with respect to other outbound frames.
func (c *Conn) sendFrame(op frame.Opcode, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := frame.WriteMessage(c.bw, op, payload); err != nil {
		return err
	}
	c.srv.cfg.Metrics.FrameSent(op.String(), len(payload))
	return nil
}

// close drives OPEN -> CLOSING -> CLOSED. The first caller acts; later
// calls are no-ops. When sendClose is set, one empty close frame is sent
// to the peer on a best-effort basis before teardown. Teardown marks the
// connection done, closes both queues so anything blocked on them wakes,
// and shuts down both transport halves: a decode loop parked in a read
// on a silent peer observes EOF rather than blocking forever.
func (c *Conn) close(sendClose bool) {
	c.closeOnce.Do(func() {
		if sendClose {
			if err := c.sendFrame(frame.OpClose, nil); err != nil {
				c.logger.Debug("close frame send failed", slog.String("error", err.Error()))
			}
		}
		c.done.Store(true)
		c.in.Close()
		c.out.Close()
		c.shutdownOutput()
		c.shutdownInput()
	})
}

// shutdownInput half-closes the read side so a blocked decode loop
// observes EOF at its next read.
func (c *Conn) shutdownInput() {
	type closeReader interface {
		CloseRead() error
	}
	if cr, ok := c.raw.(closeReader); ok {
		_ = cr.CloseRead()
		return
	}
	_ = c.raw.SetReadDeadline(time.Now())
}

// shutdownOutput half-closes the write side.
func (c *Conn) shutdownOutput() {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.raw.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.raw.SetWriteDeadline(time.Now())
}
