/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics exposes the reactor/session/stream layer's runtime
// counters as Prometheus collectors (SPEC_FULL §3 supplemented
// observability: spec.md itself stays silent on metrics, but an ambient
// stack carries structured observability regardless of a feature
// Non-goal).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sabouaram/streamcore/session"
)

// Collectors bundles every gauge/counter/histogram the endpoint and
// reactor layers update. A nil *Collectors is valid everywhere its
// methods are called (they no-op), so instrumentation is opt-in.
type Collectors struct {
	SessionsOpen      prometheus.Gauge
	SessionsTotal     prometheus.Counter
	HandshakeFailures prometheus.Counter
	DecryptFailures   prometheus.Counter
	BytesRead         prometheus.Counter
	BytesWritten      prometheus.Counter
	HandshakeDuration prometheus.Histogram
	WorkerLoad        *prometheus.GaugeVec
}

// New builds a fresh Collectors set and registers it against reg (a
// caller-owned registry, never the global default, so multiple Clients
// in one process never collide on metric names).
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamcore", Name: "sessions_open",
			Help: "Number of sessions currently attached to a live descriptor.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore", Name: "sessions_total",
			Help: "Total sessions created since process start.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore", Name: "handshake_failures_total",
			Help: "DSHP handshakes that ended in StateFailed.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore", Name: "decrypt_failures_total",
			Help: "AEAD Open failures across all streams.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore", Name: "bytes_read_total",
			Help: "Plaintext bytes delivered to channel handlers.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamcore", Name: "bytes_written_total",
			Help: "Plaintext bytes accepted by Stream.Write.",
		}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamcore", Name: "handshake_duration_seconds",
			Help:    "Wall-clock time from accept to StateStreaming.",
			Buckets: prometheus.DefBuckets,
		}),
		WorkerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore", Name: "worker_descriptor_count",
			Help: "Live descriptor count per reactor worker, the input to least-loaded placement.",
		}, []string{"worker"}),
	}

	reg.MustRegister(
		c.SessionsOpen, c.SessionsTotal, c.HandshakeFailures, c.DecryptFailures,
		c.BytesRead, c.BytesWritten, c.HandshakeDuration, c.WorkerLoad,
	)
	return c
}

func (c *Collectors) sessionOpened() {
	if c == nil {
		return
	}
	c.SessionsOpen.Inc()
	c.SessionsTotal.Inc()
}

func (c *Collectors) sessionClosed() {
	if c == nil {
		return
	}
	c.SessionsOpen.Dec()
}

// HandshakeFailed records one DSHP exchange ending in StateFailed.
func (c *Collectors) HandshakeFailed() {
	if c == nil {
		return
	}
	c.HandshakeFailures.Inc()
}

// WorkerLoadSet records worker's current descriptor count, the same
// figure reactor.Pool.LeastLoaded compares across workers.
func (c *Collectors) WorkerLoadSet(worker string, count int) {
	if c == nil {
		return
	}
	c.WorkerLoad.WithLabelValues(worker).Set(float64(count))
}

// Observe feeds a session.Store.Subscribe channel into the open/closed
// session metrics; run it on its own goroutine for the
// lifetime of the Store.
func (c *Collectors) Observe(events <-chan session.Event) {
	if c == nil {
		return
	}
	for ev := range events {
		switch ev.Kind {
		case session.EventOpened:
			c.sessionOpened()
		case session.EventClosed:
			c.sessionClosed()
		}
	}
}
