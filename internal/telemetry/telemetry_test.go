package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("PGMATVIEW_OTEL_ENABLED", "")

	if Enabled() {
		t.Fatal("Enabled() = true with PGMATVIEW_OTEL_ENABLED unset")
	}
	if err := Init(context.Background(), "pgmatview", "test"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if len(shutdownFns) != 0 {
		t.Errorf("shutdownFns = %d, want 0 when disabled", len(shutdownFns))
	}

	counter, err := Meter("").Int64Counter("test.count")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 1)
	Shutdown(context.Background())
}

func TestInitEnabledRegistersShutdown(t *testing.T) {
	t.Setenv("PGMATVIEW_OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if err := Init(context.Background(), "pgmatview", "test"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if len(shutdownFns) != 1 {
		t.Errorf("shutdownFns = %d, want 1", len(shutdownFns))
	}
	Shutdown(context.Background())
	if len(shutdownFns) != 0 {
		t.Errorf("Shutdown() left %d functions", len(shutdownFns))
	}
}
