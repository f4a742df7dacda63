package tracing

import (
	"context"
	"testing"
)

func TestGetTraceIDFromContext(t *testing.T) {
	if got := GetTraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context should have no trace id, got %q", got)
	}

	tp, err := InitTracerProvider("tracing-test", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	got := GetTraceIDFromContext(ctx)
	if got != span.SpanContext().TraceID().String() || len(got) != 32 {
		t.Fatalf("trace id = %q", got)
	}
}
