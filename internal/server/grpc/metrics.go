package grpcserver

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics records per-method RPC counts, latencies and live watchers.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	watchers prometheus.Gauge
	dropped  prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "rpc_requests_total",
			Help:      "RPCs handled, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "larder",
			Name:      "rpc_duration_seconds",
			Help:      "Unary RPC latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "larder",
			Name:      "watch_streams",
			Help:      "Open WatchItems streams.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "realtime_dropped_total",
			Help:      "Changes dropped because a watcher fell behind.",
		}),
	}
	reg.MustRegister(m.requests, m.latency, m.watchers, m.dropped)
	return m
}

// Unary counts and times unary calls.
func (m *Metrics) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		m.latency.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Stream counts streaming calls and tracks how many are open.
func (m *Metrics) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		m.watchers.Inc()
		defer m.watchers.Dec()
		err := next(srv, ss)
		m.requests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return err
	}
}

// Dropped is suitable as realtime.Hub.OnDrop.
func (m *Metrics) Dropped(string) { m.dropped.Inc() }
