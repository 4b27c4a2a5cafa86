// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for chat streaming.
//
// # Description
//
// Two metric sets are defined:
//   - ClientMetrics: the streaming session controller (frames, turns,
//     dropped submits, latency to first token, turn duration)
//   - HubMetrics: the development hub serving the chat protocol
//
// Both are registered against an injected prometheus.Registerer so tests
// can use a fresh registry. All recording methods are nil-safe: a nil
// *ClientMetrics or *HubMetrics records nothing.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "govchat"

const (
	clientSubsystem = "client"
	hubSubsystem    = "hub"
)

// =============================================================================
// Client Metrics
// =============================================================================

// ClientMetrics holds metrics for the streaming session controller.
//
// # Fields
//
//   - ConnectionsTotal: dial attempts by result (open, failed, no_token)
//   - DisconnectsTotal: transport closures by cause (remote_close, lost, error, local)
//   - FramesTotal: inbound frames by kind (status, ping, token, artifact, done, unknown)
//   - MalformedFramesTotal: frames that failed to decode
//   - SubmitsTotal: submissions by result (accepted, dropped_gate, dropped_empty, send_failed)
//   - TurnsTotal: finalized turns by outcome (done, idle, stopped, error, send_failed)
//   - TimeToFirstTokenSeconds: latency from submit to first token
//   - TurnDurationSeconds: latency from submit to finalization
type ClientMetrics struct {
	ConnectionsTotal        *prometheus.CounterVec
	DisconnectsTotal        *prometheus.CounterVec
	FramesTotal             *prometheus.CounterVec
	MalformedFramesTotal    prometheus.Counter
	SubmitsTotal            *prometheus.CounterVec
	TurnsTotal              *prometheus.CounterVec
	TimeToFirstTokenSeconds prometheus.Histogram
	TurnDurationSeconds     *prometheus.HistogramVec
}

// NewClientMetrics creates and registers the controller metrics.
//
// # Inputs
//
//   - reg: Registry to register against. Use prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the same registry already holds these metrics.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	factory := promauto.With(reg)

	return &ClientMetrics{
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "connections_total",
				Help:      "Connection attempts by result",
			},
			[]string{"result"},
		),

		DisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "disconnects_total",
				Help:      "Transport closures by cause",
			},
			[]string{"cause"},
		),

		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "frames_total",
				Help:      "Inbound frames by kind",
			},
			[]string{"kind"},
		),

		MalformedFramesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "malformed_frames_total",
				Help:      "Inbound frames that could not be decoded",
			},
		),

		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "submits_total",
				Help:      "Query submissions by result",
			},
			[]string{"result"},
		),

		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "turns_total",
				Help:      "Finalized turns by outcome",
			},
			[]string{"outcome"},
		),

		TimeToFirstTokenSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from submit to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Time from submit to finalization in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
	}
}

// RecordConnection counts a dial attempt.
func (m *ClientMetrics) RecordConnection(result string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(result).Inc()
}

// RecordDisconnect counts a transport closure.
func (m *ClientMetrics) RecordDisconnect(cause string) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(cause).Inc()
}

// RecordFrame counts an inbound frame.
func (m *ClientMetrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

// RecordMalformedFrame counts a frame that failed to decode.
func (m *ClientMetrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFramesTotal.Inc()
}

// RecordSubmit counts a submission attempt.
func (m *ClientMetrics) RecordSubmit(result string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(result).Inc()
}

// RecordFirstToken observes the latency to the first fragment.
func (m *ClientMetrics) RecordFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.Observe(d.Seconds())
}

// RecordTurn counts a finalized turn and observes its duration.
func (m *ClientMetrics) RecordTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// =============================================================================
// Hub Metrics
// =============================================================================

// HubMetrics holds metrics for the development hub.
type HubMetrics struct {
	// ActiveSessions tracks open chat sockets.
	ActiveSessions prometheus.Gauge

	// SubmitsTotal counts queries received, by routing marker ("none" if plain).
	SubmitsTotal *prometheus.CounterVec

	// TokensStreamed counts fragments written to clients.
	TokensStreamed prometheus.Counter

	// PongsTotal counts keep-alive replies received.
	PongsTotal prometheus.Counter

	// AuthFailuresTotal counts rejected credentials.
	AuthFailuresTotal prometheus.Counter

	// RedactionsTotal counts spans scrubbed from stored queries.
	RedactionsTotal *prometheus.CounterVec
}

// NewHubMetrics creates and registers the hub metrics.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	factory := promauto.With(reg)

	return &HubMetrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "active_sessions",
			Help:      "Number of open chat sockets",
		}),
		SubmitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "submits_total",
			Help:      "Queries received by routing marker",
		}, []string{"route"}),
		TokensStreamed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "tokens_streamed_total",
			Help:      "Token fragments written to clients",
		}),
		PongsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "pongs_total",
			Help:      "Keep-alive replies received",
		}),
		AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "auth_failures_total",
			Help:      "Rejected credentials",
		}),
		RedactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: hubSubsystem,
			Name:      "redactions_total",
			Help:      "Spans scrubbed from stored queries by classification",
		}, []string{"classification"}),
	}
}

// SessionOpened increments the active session gauge.
func (m *HubMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *HubMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordSubmit counts a received query.
func (m *HubMetrics) RecordSubmit(route string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(route).Inc()
}

// RecordToken counts a streamed fragment.
func (m *HubMetrics) RecordToken() {
	if m == nil {
		return
	}
	m.TokensStreamed.Inc()
}

// RecordPong counts a keep-alive reply.
func (m *HubMetrics) RecordPong() {
	if m == nil {
		return
	}
	m.PongsTotal.Inc()
}

// RecordAuthFailure counts a rejected credential.
func (m *HubMetrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.Inc()
}

// RecordRedaction counts one scrubbed span.
func (m *HubMetrics) RecordRedaction(classification string) {
	if m == nil {
		return
	}
	m.RedactionsTotal.WithLabelValues(classification).Inc()
}
