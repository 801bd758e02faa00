// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the WebSocket
// server.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrMalformedUpgrade indicates the upgrade request could not be parsed.
	ErrMalformedUpgrade = errors.New("incorrect upgrade request")

	// ErrUpgradeHeaderMissing indicates the Upgrade header is absent or not "websocket".
	ErrUpgradeHeaderMissing = errors.New("upgrade header missing")

	// ErrUnsupportedSubprotocol indicates no handler is registered for the requested subprotocol.
	ErrUnsupportedSubprotocol = errors.New("subprotocol not supported")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrServerStopped indicates the server is stopping and refuses new work.
	ErrServerStopped = errors.New("server stopped")
)

// ConnError wraps an error with per-connection context.
type ConnError struct {
	Op          string // Operation that failed (handshake, read, write, handler)
	ConnID      string // Connection identifier
	Subprotocol string // Negotiated subprotocol, if any
	RemoteAddr  string // Peer address
	Err         error  // Underlying error
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	if e.Subprotocol != "" {
		return fmt.Sprintf("%s [%s] %s (%s): %v", e.Op, e.ConnID, e.RemoteAddr, e.Subprotocol, e.Err)
	}
	return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.ConnID, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// New creates a new ConnError.
func New(op, connID, subprotocol, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnError{
		Op:          op,
		ConnID:      connID,
		Subprotocol: subprotocol,
		RemoteAddr:  remoteAddr,
		Err:         err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
