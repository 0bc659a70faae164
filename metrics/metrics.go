// Package metrics wires the connection core's observer events into
// Prometheus, following quic-go's metrics package: package-level
// vectors registered once, exposed through constructors that build a
// logging.ConnectionTracer closing over them.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qcore-go/qcore/internal/protocol"
	"github.com/qcore-go/qcore/internal/qerr"
	"github.com/qcore-go/qcore/logging"
)

const namespace = "qcore"

var (
	connectionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_started_total",
			Help:      "Connections started, by perspective",
		},
		[]string{"perspective"},
	)
	connectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections closed, by perspective and benign/error",
		},
		[]string{"perspective", "outcome"},
	)
	connectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of a connection from StartedConnection to ClosedConnection",
			Buckets:   prometheus.ExponentialBuckets(1.0/16, 2, 20),
		},
		[]string{"perspective"},
	)
	bytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes handed to the socket by the write path orchestrator",
		},
		[]string{"perspective"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes accepted by the network data ingress path",
		},
		[]string{"perspective"},
	)
	appLimitedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_limited",
			Help:      "1 while the connection is app-limited, 0 while congestion-limited",
		},
		[]string{"perspective"},
	)
	smoothedRTT = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smoothed_rtt_seconds",
			Help:      "Most recently reported smoothed RTT",
		},
		[]string{"perspective"},
	)
	congestionWindow = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "congestion_window_bytes",
			Help:      "Most recently reported congestion window",
		},
		[]string{"perspective"},
	)
)

func mustRegister(registerer prometheus.Registerer, collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
}

// NewTracer builds a ConnectionTracer that records events for one
// connection against the default Prometheus registerer.
func NewTracer(perspective protocol.Perspective) *logging.ConnectionTracer {
	return NewTracerWithRegisterer(perspective, prometheus.DefaultRegisterer)
}

// NewTracerWithRegisterer is NewTracer against an explicit registerer, for
// tests and multi-registry processes.
func NewTracerWithRegisterer(perspective protocol.Perspective, registerer prometheus.Registerer) *logging.ConnectionTracer {
	mustRegister(registerer,
		connectionsStarted, connectionsClosed, connectionDuration,
		bytesWritten, bytesReceived, appLimitedGauge, smoothedRTT, congestionWindow,
	)

	label := perspective.String()
	var startedAt time.Time

	return &logging.ConnectionTracer{
		StartedConnection: func(_, _ string, _ protocol.Perspective) {
			startedAt = time.Now()
			connectionsStarted.WithLabelValues(label).Inc()
		},
		ClosedConnection: func(reason qerr.CloseReason) {
			outcome := "error"
			if reason.IsBenign() {
				outcome = "benign"
			}
			connectionsClosed.WithLabelValues(label, outcome).Inc()
			if !startedAt.IsZero() {
				connectionDuration.WithLabelValues(label).Observe(time.Since(startedAt).Seconds())
			}
		},
		PacketsWritten: func(_ int, bytes protocol.ByteCount) {
			bytesWritten.WithLabelValues(label).Add(float64(bytes))
		},
		NetworkDataReceived: func(_ int, bytes protocol.ByteCount) {
			bytesReceived.WithLabelValues(label).Add(float64(bytes))
		},
		AppLimited: func(limited bool) {
			v := 0.0
			if limited {
				v = 1.0
			}
			appLimitedGauge.WithLabelValues(label).Set(v)
		},
		UpdatedMetrics: func(rtt, _ time.Duration, cwnd, _ protocol.ByteCount) {
			smoothedRTT.WithLabelValues(label).Set(rtt.Seconds())
			congestionWindow.WithLabelValues(label).Set(float64(cwnd))
		},
	}
}
