package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	// Check that all metrics are registered
	if m.AdmissionsTotal == nil {
		t.Error("AdmissionsTotal is nil")
	}
	if m.CompletionsTotal == nil {
		t.Error("CompletionsTotal is nil")
	}
	if m.TerminationsTotal == nil {
		t.Error("TerminationsTotal is nil")
	}
	if m.QuotaFillRatio == nil {
		t.Error("QuotaFillRatio is nil")
	}
	if m.VendorCallbacksTotal == nil {
		t.Error("VendorCallbacksTotal is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
	if m.APIRequestDurationSeconds == nil {
		t.Error("APIRequestDurationSeconds is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	// Initially global should be nil
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	// Cleanup
	SetGlobal(nil)
}

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 10)
	c.Collect(ch)
	close(ch)
	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("failed to read metric: %v", err)
		}
		if m.Counter != nil {
			total += m.Counter.GetValue()
		}
		if m.Gauge != nil {
			total += m.Gauge.GetValue()
		}
	}
	return total
}

func TestIncAdmissions(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncAdmissions("s1", "QUALIFIED")
	IncAdmissions("s1", "QUALIFIED")
	IncAdmissions("s1", "QUOTA_FULL")

	if got := counterValue(t, m.AdmissionsTotal); got != 3 {
		t.Errorf("AdmissionsTotal = %v, want 3", got)
	}
}

func TestSetQuotaFill(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetQuotaFill("s1", 5, 10)
	if got := counterValue(t, m.QuotaFillRatio); got != 0.5 {
		t.Errorf("QuotaFillRatio = %v, want 0.5", got)
	}
	if got := counterValue(t, m.QuotaCurrent); got != 5 {
		t.Errorf("QuotaCurrent = %v, want 5", got)
	}

	// No ratio for unlimited quotas.
	SetQuotaFill("s2", 3, 0)
	if got := counterValue(t, m.QuotaCurrent); got != 8 {
		t.Errorf("QuotaCurrent total = %v, want 8", got)
	}
}

func TestHelpersNilSafe(t *testing.T) {
	SetGlobal(nil)

	// None of these should panic without a global instance.
	IncAdmissions("s1", "QUALIFIED")
	IncCompletions("s1", "ok")
	IncTerminations()
	IncAdmissionConflicts()
	SetQuotaFill("s1", 1, 2)
	IncVendorCallbacks("ok")
	IncAPIErrors("bad_request")
}
