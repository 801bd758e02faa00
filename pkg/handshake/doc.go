// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handshake implements the one-time HTTP Upgrade exchange that
// establishes a WebSocket session (RFC 6455 Section 4).
//
// # Contract
//
// Upgrade consumes exactly one HTTP request from a stream, in order:
//
//  1. Parse the request. End of input before a request arrives is an
//     idle close, not an error. A structurally broken request fails the
//     connection; there is no retry.
//  2. Require an Upgrade header equal to "websocket".
//  3. Negotiate the Sec-WebSocket-Protocol value (possibly empty)
//     against the handler registry; an unregistered value fails the
//     connection.
//  4. Compute Sec-WebSocket-Accept as
//     base64(SHA-1(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11")).
//  5. Write the 101 Switching Protocols response and flush. The
//     Sec-WebSocket-Protocol response header appears only when the
//     negotiated subprotocol is non-empty.
//
// # Wire Response
//
//	HTTP/1.1 101 Switching Protocols\r\n
//	Upgrade: websocket\r\n
//	Connection: Upgrade\r\n
//	Sec-WebSocket-Version: 13\r\n
//	Sec-WebSocket-Accept: <accept>\r\n
//	[Sec-WebSocket-Protocol: <name>\r\n]
//	\r\n
package handshake
