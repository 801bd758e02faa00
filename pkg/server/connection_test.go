// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// rawDial connects over plain TCP and completes the upgrade handshake
// using the RFC 6455 Section 1.3 sample key, asserting the response
// byte for byte.
func rawDial(t *testing.T, addr string) (*net.TCPConn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	tcp := conn.(*net.TCPConn)
	t.Cleanup(func() { tcp.Close() })

	req := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := tcp.Write([]byte(req)); err != nil {
		t.Fatalf("writing upgrade request: %v", err)
	}

	want := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	br := bufio.NewReader(tcp)
	got := make([]byte, len(want))
	_ = tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("reading upgrade response: %v", err)
	}
	if string(got) != want {
		t.Fatalf("upgrade response = %q, want %q", got, want)
	}
	_ = tcp.SetReadDeadline(time.Time{})
	return tcp, br
}

// maskedFrame builds a single client-to-server frame with FIN set and a
// fixed masking key.
func maskedFrame(op byte, payload []byte) []byte {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}

	var buf bytes.Buffer
	buf.WriteByte(0x80 | op)
	switch n := len(payload); {
	case n <= 125:
		buf.WriteByte(0x80 | byte(n))
	case n <= 65535:
		buf.WriteByte(0x80 | 126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		buf.Write(ext[:])
	default:
		buf.WriteByte(0x80 | 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		buf.Write(ext[:])
	}
	buf.Write(key[:])
	for i, b := range payload {
		buf.WriteByte(b ^ key[i&3])
	}
	return buf.Bytes()
}

// readRawFrame reads one unmasked server-to-client frame.
func readRawFrame(t *testing.T, br *bufio.Reader) (op byte, payload []byte) {
	t.Helper()

	var hdr [2]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		t.Fatalf("reading frame header: %v", err)
	}
	if hdr[1]&0x80 != 0 {
		t.Fatal("server frame is masked")
	}

	length := uint64(hdr[1] & 0x7f)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			t.Fatalf("reading extended length: %v", err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			t.Fatalf("reading extended length: %v", err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	return hdr[0] & 0x0f, payload
}

func rawTestAddr(t *testing.T, cfg Config) string {
	t.Helper()
	_, url := newTestServer(t, cfg)
	return strings.TrimSuffix(strings.TrimPrefix(url, "ws://"), "/")
}

func TestRawHandshakeResponse(t *testing.T) {
	addr := rawTestAddr(t, Config{})
	// rawDial asserts the full response.
	rawDial(t, addr)
}

func TestRawEcho(t *testing.T) {
	addr := rawTestAddr(t, Config{})
	tcp, br := rawDial(t, addr)

	if _, err := tcp.Write(maskedFrame(0x02, []byte("Hello"))); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	op, payload := readRawFrame(t, br)
	if op != 0x02 {
		t.Errorf("opcode = %#x, want binary", op)
	}
	if string(payload) != "Hello" {
		t.Errorf("payload = %q, want %q", payload, "Hello")
	}
}

func TestRawCloseEcho(t *testing.T) {
	addr := rawTestAddr(t, Config{})
	tcp, br := rawDial(t, addr)

	if _, err := tcp.Write(maskedFrame(0x08, nil)); err != nil {
		t.Fatalf("writing close frame: %v", err)
	}

	op, payload := readRawFrame(t, br)
	if op != 0x08 {
		t.Errorf("opcode = %#x, want close", op)
	}
	if len(payload) != 0 {
		t.Errorf("close payload length = %d, want 0", len(payload))
	}

	// The server shuts its output half after the close echo.
	_ = tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("read after close = %v, want io.EOF", err)
	}
}

func TestRawPingPong(t *testing.T) {
	addr := rawTestAddr(t, Config{})
	tcp, br := rawDial(t, addr)

	if _, err := tcp.Write(maskedFrame(0x09, []byte("hi"))); err != nil {
		t.Fatalf("writing ping frame: %v", err)
	}
	op, payload := readRawFrame(t, br)
	if op != 0x0a {
		t.Errorf("opcode = %#x, want pong", op)
	}
	if string(payload) != "hi" {
		t.Errorf("pong payload = %q, want %q", payload, "hi")
	}
}

func TestRawClientEOF(t *testing.T) {
	addr := rawTestAddr(t, Config{})
	tcp, br := rawDial(t, addr)

	// Half-close on a frame boundary: the server tears down without
	// echoing a close frame.
	if err := tcp.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	_ = tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("read after half-close = %v, want io.EOF", err)
	}
}

func TestCloseReleasesSilentReader(t *testing.T) {
	s, url := newTestServer(t, Config{})
	addr := strings.TrimSuffix(strings.TrimPrefix(url, "ws://"), "/")
	rawDial(t, addr)

	var c *Conn
	deadline := time.Now().Add(2 * time.Second)
	for c == nil && time.Now().Before(deadline) {
		s.mu.Lock()
		for conn := range s.conns {
			c = conn
		}
		s.mu.Unlock()
		if c == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if c == nil {
		t.Fatal("connection never registered")
	}

	// The peer sends no frames, so the decode loop is parked in a read.
	// Forcing the close handshake must still release it and let the
	// processing goroutine deregister the connection.
	c.close(true)

	for time.Now().Before(deadline) {
		if s.ConnCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ConnCount() = %d after close, want 0", s.ConnCount())
}

func TestRawOversizedFrameRejected(t *testing.T) {
	addr := rawTestAddr(t, Config{MaxFramePayload: 16})
	tcp, br := rawDial(t, addr)

	if _, err := tcp.Write(maskedFrame(0x02, bytes.Repeat([]byte("a"), 64))); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	// A failed decode attempts the close echo before teardown.
	op, _ := readRawFrame(t, br)
	if op != 0x08 {
		t.Errorf("opcode = %#x, want close", op)
	}
}
