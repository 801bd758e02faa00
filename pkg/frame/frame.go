// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies the frame type (RFC 6455 Section 5.2).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode denotes a control frame.
// RFC 6455 Section 5.5: opcodes 0x8-0xF are control frames.
func (o Opcode) IsControl() bool {
	return o >= OpClose
}

// IsData reports whether the opcode carries application data.
func (o Opcode) IsData() bool {
	return o == OpContinuation || o == OpText || o == OpBinary
}

// String returns a short name for known opcodes, for logging.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", byte(o))
	}
}

// Close codes defined in RFC 6455, Section 7.4.1.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// Payload length encoding markers (RFC 6455 Section 5.2).
	len16 = 126
	len64 = 127

	// Largest possible header: 2 fixed bytes + 8 extended length bytes.
	maxHeaderSize = 10
)

// DefaultMaxPayload bounds a single frame's payload on decode when the
// caller does not supply a limit. Oversized frames are a decode error,
// not an allocation.
const DefaultMaxPayload = 32 << 20 // 32 MiB

// Frame is one decoded WebSocket frame.
type Frame struct {
	FIN     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// Decoder incrementally decodes frames from a buffered stream. It holds
// the frame-decoder state for the lifetime of a connection and must not
// be used from more than one goroutine at a time.
type Decoder struct {
	r          *bufio.Reader
	maxPayload int64
}

// NewDecoder returns a Decoder reading from r. maxPayload bounds the
// payload size of a single frame; zero or negative selects
// DefaultMaxPayload.
func NewDecoder(r *bufio.Reader, maxPayload int64) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{r: r, maxPayload: maxPayload}
}

// Decode consumes exactly one frame from the stream, applying the peer's
// masking key when the MASK bit is set. A masked frame with a zero key is
// valid and XORs to identity. Decode returns io.EOF only when the stream
// ends before the first header byte; an end of stream anywhere inside a
// frame is reported as io.ErrUnexpectedEOF.
func (d *Decoder) Decode() (*Frame, error) {
	b0, err := d.r.ReadByte()
	if err != nil {
		// EOF on a frame boundary is a clean end of stream.
		return nil, err
	}
	b1, err := d.r.ReadByte()
	if err != nil {
		return nil, noEOF(err)
	}

	f := &Frame{
		FIN:    b0&finBit != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&maskBit != 0,
	}

	length := uint64(b1 & 0x7F)
	switch length {
	case len16:
		var ext [2]byte
		if _, err := io.ReadFull(d.r, ext[:]); err != nil {
			return nil, fmt.Errorf("reading 16-bit extended length: %w", noEOF(err))
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case len64:
		var ext [8]byte
		if _, err := io.ReadFull(d.r, ext[:]); err != nil {
			return nil, fmt.Errorf("reading 64-bit extended length: %w", noEOF(err))
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > uint64(d.maxPayload) {
		return nil, fmt.Errorf("frame payload of %d bytes exceeds limit of %d", length, d.maxPayload)
	}

	if f.Masked {
		if _, err := io.ReadFull(d.r, f.MaskKey[:]); err != nil {
			return nil, fmt.Errorf("reading masking key: %w", noEOF(err))
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(d.r, f.Payload); err != nil {
		return nil, fmt.Errorf("reading %d payload bytes: %w", length, noEOF(err))
	}
	if f.Masked {
		Mask(f.Payload, f.MaskKey)
	}
	return f, nil
}

// WriteMessage encodes payload as a single unfragmented, unmasked frame
// and writes it to w followed by one flush. Callers must not invoke it
// concurrently for the same writer; frame atomicity on the wire depends
// on writes being serialized.
func WriteMessage(w *bufio.Writer, op Opcode, payload []byte) error {
	var hdr [maxHeaderSize]byte
	n := EncodeHeader(hdr[:], op, uint64(len(payload)))
	if _, err := w.Write(hdr[:n]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return w.Flush()
}

// EncodeHeader fills dst with a server frame header for a payload of n
// bytes and returns the header size: 2 bytes for n <= 125, 4 bytes for
// n <= 65535, 10 bytes otherwise. dst must hold at least 10 bytes.
func EncodeHeader(dst []byte, op Opcode, n uint64) int {
	dst[0] = finBit | byte(op)
	switch {
	case n <= 125:
		dst[1] = byte(n)
		return 2
	case n <= 0xFFFF:
		dst[1] = len16
		binary.BigEndian.PutUint16(dst[2:], uint16(n))
		return 4
	default:
		dst[1] = len64
		binary.BigEndian.PutUint64(dst[2:], n)
		return 10
	}
}

// Mask applies the RFC 6455 XOR transform in place. Masking and unmasking
// are the same operation.
func Mask(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i&3]
	}
}

// noEOF maps a bare io.EOF to io.ErrUnexpectedEOF for reads that happen
// after a frame has started.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
