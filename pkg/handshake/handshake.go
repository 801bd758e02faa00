// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	wserrors "github.com/astradot/websocket/pkg/errors"
	"github.com/astradot/websocket/pkg/handler"
)

// GUID is the fixed key suffix from RFC 6455 Section 1.3.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// replyTemplate is the fixed prefix of the 101 response, up to and
// including the Sec-WebSocket-Accept header name.
const replyTemplate = "HTTP/1.1 101 Switching Protocols\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"Sec-WebSocket-Accept: "

// Result is the outcome of a successful Upgrade call.
type Result struct {
	// Handler is the application handler bound to the negotiated
	// subprotocol. Nil when EOF is set.
	Handler handler.Handler

	// Subprotocol is the negotiated Sec-WebSocket-Protocol value, which
	// may be empty.
	Subprotocol string

	// EOF reports that the stream ended before a request arrived. The
	// connection should be marked done without treating this as a
	// protocol violation.
	EOF bool
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key
// (RFC 6455 Section 4.2.2).
func AcceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, GUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Upgrade reads one HTTP upgrade request from br, negotiates a
// subprotocol against reg, and writes the 101 response to bw. A single
// malformed request terminates the connection; nothing is written on
// failure.
func Upgrade(br *bufio.Reader, bw *bufio.Writer, reg *handler.Registry, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Idle close: the peer went away before sending a request.
			return Result{EOF: true}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", wserrors.ErrMalformedUpgrade, err)
	}

	if upgrade := req.Header.Get("Upgrade"); upgrade != "websocket" {
		return Result{}, fmt.Errorf("%w: got %q", wserrors.ErrUpgradeHeaderMissing, upgrade)
	}

	subprotocol := req.Header.Get("Sec-WebSocket-Protocol")
	h, ok := reg.Get(subprotocol)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", wserrors.ErrUnsupportedSubprotocol, subprotocol)
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	version := req.Header.Get("Sec-WebSocket-Version")
	logger.Debug("websocket upgrade request",
		slog.String("subprotocol", subprotocol),
		slog.String("key", key),
		slog.String("version", version))

	accept := AcceptKey(key)

	if _, err := bw.WriteString(replyTemplate); err != nil {
		return Result{}, fmt.Errorf("writing upgrade response: %w", err)
	}
	if _, err := bw.WriteString(accept); err != nil {
		return Result{}, fmt.Errorf("writing upgrade response: %w", err)
	}
	if subprotocol != "" {
		if _, err := bw.WriteString("\r\nSec-WebSocket-Protocol: " + subprotocol); err != nil {
			return Result{}, fmt.Errorf("writing upgrade response: %w", err)
		}
	}
	if _, err := bw.WriteString("\r\n\r\n"); err != nil {
		return Result{}, fmt.Errorf("writing upgrade response: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return Result{}, fmt.Errorf("flushing upgrade response: %w", err)
	}

	return Result{Handler: h, Subprotocol: subprotocol}, nil
}
