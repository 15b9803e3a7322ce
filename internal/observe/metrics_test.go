package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/emberhealth/chartflow/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

// collectSum returns the total of all data points for the named Int64
// counter, or 0 when the instrument recorded nothing.
func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, inst := range scope.Metrics {
			if inst.Name != name {
				continue
			}
			sum, ok := inst.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("instrument %q has unexpected data type %T", name, inst.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	if m.DiarizationDuration == nil || m.ExtractionDuration == nil ||
		m.SynthesisDuration == nil || m.ReconciliationDuration == nil {
		t.Error("all stage histograms must be initialised")
	}
	if m.BackendRequests == nil || m.BackendErrors == nil ||
		m.InstructionsExtracted == nil || m.GuardCorrections == nil {
		t.Error("all counters must be initialised")
	}
	if m.ActiveSessions == nil || m.LivingInstructions == nil {
		t.Error("all gauges must be initialised")
	}
}

func TestRecordBackendRequest_CountsErrorsSeparately(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBackendRequest(ctx, "diarization", "ok")
	m.RecordBackendRequest(ctx, "extraction", "ok")
	m.RecordBackendRequest(ctx, "extraction", "error")

	if got := collectSum(t, reader, "chartflow.backend.requests"); got != 3 {
		t.Errorf("backend requests: got %d, want 3", got)
	}
	if got := collectSum(t, reader, "chartflow.backend.errors"); got != 1 {
		t.Errorf("backend errors: got %d, want 1", got)
	}
}

func TestRecordInstruction_ByDisposition(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInstruction(ctx, "start_medication", "new")
	m.RecordInstruction(ctx, "start_medication", "updated")
	m.RecordGuardCorrection(ctx, "monotonic_confirmation")

	if got := collectSum(t, reader, "chartflow.instructions.extracted"); got != 2 {
		t.Errorf("instructions extracted: got %d, want 2", got)
	}
	if got := collectSum(t, reader, "chartflow.guard.corrections"); got != 1 {
		t.Errorf("guard corrections: got %d, want 1", got)
	}
}

func TestSessionLifecycle_TracksActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	if got := collectSum(t, reader, "chartflow.active_sessions"); got != 2 {
		t.Errorf("active sessions: got %d, want 2", got)
	}

	m.SessionEnded(ctx)
	if got := collectSum(t, reader, "chartflow.active_sessions"); got != 1 {
		t.Errorf("active sessions after one end: got %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()
	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Error("default metrics must be a singleton")
	}
}
