package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := TriggersFired
	Init()
	if TriggersFired != first {
		t.Error("Init re-registered metrics")
	}
	if ActiveSessionsGauge == nil {
		t.Fatal("ActiveSessionsGauge not registered")
	}
	// Gauge helpers must not panic with registered metrics
	SetActiveSessions(3)
	SetActiveSessions(0)
}

func TestTimeFunc(t *testing.T) {
	Init()
	d := TimeFunc(ExtractDuration, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc returned %v, want >= 5ms", d)
	}
	// nil observer is allowed
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Errorf("TimeFunc returned negative duration %v", d)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation on empty ctx = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
