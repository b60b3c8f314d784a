package grpcserver

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/larder/internal/rpc"
)

func TestMetrics_UnaryCountsByCode(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	ic := m.Unary()
	info := &grpc.UnaryServerInfo{FullMethod: rpc.MethodDeleteItem}

	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, nil })
	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "not found")
	})
	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "not found")
	})

	if got := testutil.ToFloat64(m.requests.WithLabelValues(rpc.MethodDeleteItem, "OK")); got != 1 {
		t.Fatalf("OK count: %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(rpc.MethodDeleteItem, "NotFound")); got != 2 {
		t.Fatalf("NotFound count: %v", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("latency series: %d", got)
	}
}

func TestMetrics_StreamTracksOpenWatchers(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	info := &grpc.StreamServerInfo{FullMethod: rpc.MethodWatchItems, IsServerStream: true}

	err := m.Stream()(nil, ctxStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		if got := testutil.ToFloat64(m.watchers); got != 1 {
			t.Fatalf("open watchers during stream: %v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := testutil.ToFloat64(m.watchers); got != 0 {
		t.Fatalf("open watchers after stream: %v", got)
	}

	m.Dropped("owner")
	m.Dropped("owner")
	if got := testutil.ToFloat64(m.dropped); got != 2 {
		t.Fatalf("dropped: %v", got)
	}
}

func counterValue(c prometheus.Counter) float64 { return testutil.ToFloat64(c) }
