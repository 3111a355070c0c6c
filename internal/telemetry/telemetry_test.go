package telemetry

import (
	"context"
	"testing"
)

func TestSetupReturnsUsableTracerAndShutdown(t *testing.T) {
	t.Parallel()
	tracer, shutdown := Setup()
	if tracer == nil {
		t.Fatal("Setup returned a nil tracer")
	}
	_, span := tracer.Start(context.Background(), "test-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestServerAndDialOptionsAreNonEmpty(t *testing.T) {
	t.Parallel()
	if len(ServerOptions()) == 0 {
		t.Fatal("expected at least one grpc.ServerOption")
	}
	if len(DialOptions()) == 0 {
		t.Fatal("expected at least one grpc.DialOption")
	}
}
