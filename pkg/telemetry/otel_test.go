package telemetry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
)

type mockTraceCollector struct {
	collectortrace.UnimplementedTraceServiceServer

	mu            sync.Mutex
	resourceSpans []*tracepb.ResourceSpans
	notify        chan struct{}
}

func startMockTraceCollector(t *testing.T) (*mockTraceCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start OTLP listener: %v", err)
	}

	collector := &mockTraceCollector{notify: make(chan struct{}, 1)}
	server := grpc.NewServer()
	collectortrace.RegisterTraceServiceServer(server, collector)
	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	return collector, lis.Addr().String()
}

func (m *mockTraceCollector) Export(_ context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	m.mu.Lock()
	m.resourceSpans = append(m.resourceSpans, req.ResourceSpans...)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

func (m *mockTraceCollector) waitForSpans(ctx context.Context) []*tracepb.Span {
	for {
		m.mu.Lock()
		var spans []*tracepb.Span
		for _, rs := range m.resourceSpans {
			for _, scope := range rs.ScopeSpans {
				spans = append(spans, scope.Spans...)
			}
		}
		m.mu.Unlock()
		if len(spans) > 0 {
			return spans
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.notify:
		}
	}
}

func TestSetupProviderExportsSpans(t *testing.T) {
	collector, addr := startMockTraceCollector(t)
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	shutdown, err := SetupProvider(ctx, Config{
		ServiceName: "dao-test",
		Endpoint:    addr,
		Insecure:    true,
	})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}

	_, span := Tracer().Start(ctx, "engine.Vote")
	span.End()

	// shutdown flushes the batcher
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	spans := collector.waitForSpans(waitCtx)
	if len(spans) != 1 || spans[0].Name != "engine.Vote" {
		t.Fatalf("expected one engine.Vote span, got %v", spans)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	var service string
	for _, attr := range collector.resourceSpans[0].GetResource().GetAttributes() {
		if attr.Key == "service.name" {
			service = attr.GetValue().GetStringValue()
		}
	}
	if service != "dao-test" {
		t.Fatalf("expected service.name dao-test, got %q", service)
	}
}
