// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the WebSocket frame codec defined in RFC 6455
// Section 5.
//
// # Wire Format
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+ - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
//	|                     Payload Data continued ...                |
//	+---------------------------------------------------------------+
//
// # Decoding
//
// Decoder reads one frame at a time from a buffered stream. It handles all
// three length encodings (7-bit, 16-bit, 64-bit), removes the client mask
// when the MASK bit is set, and enforces a configurable payload size limit.
// A stream that ends cleanly on a frame boundary yields io.EOF; a stream
// that ends mid-frame yields io.ErrUnexpectedEOF.
//
// # Encoding
//
// WriteMessage produces server-to-client frames: FIN is always set (frames
// are never fragmented on send), the MASK bit is never set (RFC 6455
// Section 5.1 forbids masking server frames), and the minimal length
// encoding is selected. Header and payload are written back to back and
// flushed once, so a frame is never interleaved with another frame's bytes
// as long as callers serialize writes.
package frame
