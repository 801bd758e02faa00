// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the WebSocket
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid: every recording method is a no-op, so instrumentation stays
// optional.
type Metrics struct {
	// Connection metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures prometheus.Counter

	// Frame metrics
	FramesIn  *prometheus.CounterVec
	FramesOut *prometheus.CounterVec
	BytesIn   prometheus.Counter
	BytesOut  prometheus.Counter

	// Close handshake metrics
	CloseFramesSent prometheus.Counter

	// Accept-rate limiting
	AcceptsRejected prometheus.Counter
}

// New creates a Metrics instance registered with reg. A nil reg selects
// the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wsd"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of currently active connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total number of failed upgrade handshakes",
		}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Total number of frames received, by opcode",
		}, []string{"opcode"}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "Total number of frames sent, by opcode",
		}, []string{"opcode"}),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_in_total",
			Help:      "Total payload bytes received",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_out_total",
			Help:      "Total payload bytes sent",
		}),
		CloseFramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_frames_sent_total",
			Help:      "Total number of close frames sent to peers",
		}),
		AcceptsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepts_rejected_total",
			Help:      "Total number of connections rejected by the accept rate limiter",
		}),
	}
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnClosed records a finished connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// HandshakeFailed records a failed upgrade attempt.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

// FrameReceived records one decoded inbound frame.
func (m *Metrics) FrameReceived(opcode string, payloadLen int) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(opcode).Inc()
	m.BytesIn.Add(float64(payloadLen))
}

// FrameSent records one encoded outbound frame.
func (m *Metrics) FrameSent(opcode string, payloadLen int) {
	if m == nil {
		return
	}
	m.FramesOut.WithLabelValues(opcode).Inc()
	m.BytesOut.Add(float64(payloadLen))
	if opcode == "close" {
		m.CloseFramesSent.Inc()
	}
}

// AcceptRejected records a connection dropped by the accept limiter.
func (m *Metrics) AcceptRejected() {
	if m == nil {
		return
	}
	m.AcceptsRejected.Inc()
}
