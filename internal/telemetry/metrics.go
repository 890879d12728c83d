package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"broadcast/internal/proto"
)

const namespace = "broadcast"

// Metrics is a node's Prometheus instrumentation on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	received     *prometheus.CounterVec
	sent         *prometheus.CounterVec
	appended     prometheus.Counter
	duplicates   prometheus.Counter
	logSize      prometheus.Gauge
	gossipTicks  prometheus.Counter
	tickDuration prometheus.Histogram
	sendErrors   prometheus.Counter
	uptime       prometheus.GaugeFunc
	startTime    time.Time
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	m.received = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound envelopes by body type.",
		},
		[]string{"type"},
	)
	m.sent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound envelopes by body type.",
		},
		[]string{"type"},
	)
	m.appended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "values_appended_total",
		Help:      "Values newly added to the log.",
	})
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "values_duplicate_total",
		Help:      "Values received that were already in the log.",
	})
	m.logSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_size",
		Help:      "Number of distinct values held.",
	})
	m.gossipTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gossip_ticks_total",
		Help:      "Gossip scheduler ticks executed.",
	})
	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gossip_tick_duration_seconds",
		Help:      "Time spent in one gossip tick.",
		// 10us .. ~80ms
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
	})
	m.sendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_errors_total",
		Help:      "Outbound envelopes the transport failed to send.",
	})
	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	m.Registry.MustRegister(m.received, m.sent, m.appended, m.duplicates,
		m.logSize, m.gossipTicks, m.tickDuration, m.sendErrors, m.uptime)
	return m
}

// Received counts one inbound envelope.
func (m *Metrics) Received(t proto.Type) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(string(t)).Inc()
}

// Sent counts one outbound envelope.
func (m *Metrics) Sent(t proto.Type) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(string(t)).Inc()
}

// Values records the outcome of merging incoming values into a log that
// now holds logLen entries.
func (m *Metrics) Values(added, duplicate, logLen int) {
	if m == nil {
		return
	}
	m.appended.Add(float64(added))
	m.duplicates.Add(float64(duplicate))
	m.logSize.Set(float64(logLen))
}

// Tick records one gossip tick.
func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.gossipTicks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// SendError counts one failed send.
func (m *Metrics) SendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

// Handler exposes the registry. Mount it with mux.Handle("/metrics", m.Handler()).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, lis, logger)
}

func (m *Metrics) serve(ctx context.Context, lis net.Listener, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
