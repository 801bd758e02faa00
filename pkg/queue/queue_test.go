// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, p := range payloads {
		if err := q.Push(ctx, p); err != nil {
			t.Fatalf("Push(%q) failed: %v", p, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for _, want := range payloads {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	if err := q.Push(ctx, []byte("first")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, []byte("second"))
	}()

	select {
	case err := <-pushed:
		t.Fatalf("Push on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
		// Producer is suspended, as it should be.
	}

	if _, err := q.Pop(ctx); err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("blocked Push failed after Pop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Push did not resume after Pop made room")
	}
}

func TestPopBlocksWhenEmpty(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	popped := make(chan []byte, 1)
	go func() {
		p, _ := q.Pop(ctx)
		popped <- p
	}()

	select {
	case p := <-popped:
		t.Fatalf("Pop on an empty queue returned early: %q", p)
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Push(ctx, []byte("wake")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	select {
	case p := <-popped:
		if !bytes.Equal(p, []byte("wake")) {
			t.Errorf("Pop = %q, want %q", p, "wake")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not resume after Push")
	}
}

func TestCloseWakesBlockedProducerAndConsumer(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	if err := q.Push(ctx, []byte("fill")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	producerErr := make(chan error, 1)
	go func() {
		producerErr <- q.Push(ctx, []byte("blocked"))
	}()

	empty := New(1)
	consumerErr := make(chan error, 1)
	go func() {
		_, err := empty.Pop(ctx)
		consumerErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()
	empty.Close()

	select {
	case err := <-producerErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Push after Close = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked producer")
	}
	select {
	case err := <-consumerErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Pop after Close = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked consumer")
	}
}

func TestPopDrainsBufferedPayloadsAfterClose(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	if err := q.Push(ctx, []byte("buffered")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	q.Close()

	got, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop after Close failed: %v", err)
	}
	if !bytes.Equal(got, []byte("buffered")) {
		t.Errorf("Pop = %q, want %q", got, "buffered")
	}

	if _, err := q.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop on drained closed queue = %v, want ErrClosed", err)
	}
}

func TestPushAfterClose(t *testing.T) {
	q := New(1)
	q.Close()
	q.Close() // idempotent

	if err := q.Push(context.Background(), []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}
}

func TestPushRespectsContext(t *testing.T) {
	q := New(1)
	if err := q.Push(context.Background(), []byte("fill")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, []byte("blocked")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push with expired context = %v, want DeadlineExceeded", err)
	}
}
