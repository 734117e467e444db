// Package metrics exposes gateway counters on a private prometheus registry.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without branching.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds the gateway metrics.
type Collector struct {
	registry *prometheus.Registry

	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	framesSent      *prometheus.CounterVec
	framesSkipped   *prometheus.CounterVec
	frameBytes      prometheus.Counter
	connectionState *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	invalidMessages prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers every metric under namespace on a fresh registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// RPC
	c.callsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Total number of dispatched capability calls",
		},
		[]string{"function", "status"},
	)

	c.callDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "Capability call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"function"},
	)

	c.inFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rpc_calls_in_flight",
		Help:      "Capability calls currently executing",
	})

	c.invalidMessages = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_invalid_messages_total",
		Help:      "Inbound messages rejected before dispatch",
	})

	// Streaming
	c.framesSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frame envelopes written to the connection",
		},
		[]string{"run_id"},
	)

	c.framesSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because their content hash was unchanged",
		},
		[]string{"run_id"},
	)

	c.frameBytes = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_bytes_total",
		Help:      "Payload bytes sent in frame envelopes",
	})

	// Connection
	c.connectionState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	c.connectAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		},
		[]string{"result"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordCall records one finished capability call.
func (c *Collector) RecordCall(function, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.callsTotal.WithLabelValues(function, status).Inc()
	c.callDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// CallStarted increments the in-flight gauge.
func (c *Collector) CallStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// CallFinished decrements the in-flight gauge.
func (c *Collector) CallFinished() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}

// RecordInvalidMessage counts a message rejected before dispatch.
func (c *Collector) RecordInvalidMessage() {
	if c == nil {
		return
	}
	c.invalidMessages.Inc()
}

// RecordFrameSent counts one envelope and its payload size.
func (c *Collector) RecordFrameSent(runID string, payloadBytes int) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(runID).Inc()
	c.frameBytes.Add(float64(payloadBytes))
}

// RecordFrameSkipped counts a deduplicated frame.
func (c *Collector) RecordFrameSkipped(runID string) {
	if c == nil {
		return
	}
	c.framesSkipped.WithLabelValues(runID).Inc()
}

// SetConnectionState marks state as current among states.
func (c *Collector) SetConnectionState(state string, states ...string) {
	if c == nil {
		return
	}
	for _, s := range states {
		c.connectionState.WithLabelValues(s).Set(0)
	}
	c.connectionState.WithLabelValues(state).Set(1)
}

// RecordConnectAttempt counts a dial by result ("success" or "failure").
func (c *Collector) RecordConnectAttempt(result string) {
	if c == nil {
		return
	}
	c.connectAttempts.WithLabelValues(result).Inc()
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
