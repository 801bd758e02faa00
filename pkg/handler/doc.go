// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler links negotiated subprotocols to application business
// logic.
//
// # Architecture Overview
//
// A Handler is the application side of a WebSocket session. Once the
// upgrade handshake negotiates a subprotocol, the server hands the bound
// handler the connection's two bounded queues and runs it concurrently
// with the frame loops.
//
// # Data Flow
//
//	Client frame → inbound frame loop → inbound queue → Handler
//	Handler → outbound queue → outbound frame loop → client frame
//
// # Session Lifetime
//
// The handler returns nil when its session logic is done, which makes the
// server initiate the close handshake. Returning an error terminates the
// connection: the server unblocks the frame loops and tears the session
// down. When the peer closes first, both queues are closed and the
// handler observes queue.ErrClosed on its next Push or Pop rather than
// hanging.
//
// # Registry
//
// The Registry maps a subprotocol name, as carried by the
// Sec-WebSocket-Protocol header, to a Handler. The empty name is a valid
// key and matches requests that carry no subprotocol at all. A request
// whose subprotocol has no registered handler fails the handshake.
// Registration is expected to happen before serving begins.
//
// # Example
//
//	registry.Register("echo", func(ctx context.Context, in, out *queue.Queue) error {
//		for {
//			payload, err := in.Pop(ctx)
//			if err != nil {
//				return nil
//			}
//			if err := out.Push(ctx, payload); err != nil {
//				return nil
//			}
//		}
//	})
package handler
