// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server implements an RFC 6455 WebSocket server over TCP.
//
// # Overview
//
// The server accepts raw streams, upgrades each one through the HTTP
// handshake, and then runs a full-duplex message channel for the life of
// the connection. Application logic is supplied as handlers registered
// per subprotocol; the server hands each handler the connection's two
// bounded queues.
//
// # Connection Flow
//
//	┌────────┐        ┌──────────────┐   inbound queue    ┌─────────┐
//	│ Client │ ─TCP─→ │ decode loop  │ ─────────────────→ │ Handler │
//	│        │ ←─TCP─ │ encode loop  │ ←───────────────── │         │
//	└────────┘        └──────────────┘   outbound queue   └─────────┘
//
//  1. Accept loop accepts a stream and constructs a Conn
//  2. Conn runs the upgrade handshake (one HTTP request, one response)
//  3. Three activities run concurrently: the inbound frame loop, the
//     outbound frame loop, and the application handler
//  4. Any failure or clean termination closes the shared queues and
//     shuts down transport halves; the other activities observe this at
//     their next suspension point
//  5. The close handshake sends at most one close frame, then both
//     transport halves are shut down, so a decode loop blocked on a
//     silent peer is released
//
// # Concurrency
//
// Outbound frames are written strictly in dequeue order by a single
// sequential loop; a close echo takes the same write mutex, so two
// frames' bytes never interleave. Inbound frames are decoded serially in
// arrival order. The bounded queues are the only synchronization points
// between the frame loops and the handler: producers suspend when a
// queue is full, which is the backpressure mechanism.
//
// # Shutdown
//
// Stop aborts all pending accepts, shuts down the input half of every
// live connection (in-flight decode loops observe EOF and run the close
// handshake), waits for the shutdown barrier to drain, and finally
// force-closes anything still registered, ignoring individual close
// errors. There are no timeouts inside the server; the caller bounds
// Stop with its context.
//
// # Example
//
//	srv, err := server.New(server.Config{Logger: logger})
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv.RegisterHandler("echo", echoHandler)
//	if err := srv.Listen(":8080"); err != nil {
//		log.Fatal(err)
//	}
//	...
//	srv.Stop(ctx)
package server
