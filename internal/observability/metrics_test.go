package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunStageWindowSnapshot(t *testing.T) {
	w := newRunStageWindow(8)
	w.Observe("run_total", 500)
	w.Observe("run_total", 700)
	w.Observe("run_total", 900)
	w.ObserveIndicator("failure_Timeout")
	w.ObserveIndicator("failure_Timeout")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 || s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("stats = %+v", s)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v", snap.Indicators)
	}
}

func TestRunStageWindowWrapsAround(t *testing.T) {
	w := newRunStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe("queue_wait", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a := NewMetrics("browsercloud")
	b := NewMetrics("browsercloud")

	a.ObserveTaskEvent("task_finished")
	a.ObserveTaskEvent("task_finished")
	b.ObserveTaskEvent("task_finished")

	if got := testutil.ToFloat64(a.TaskEvents.WithLabelValues("task_finished")); got != 2 {
		t.Fatalf("a task_finished = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.TaskEvents.WithLabelValues("task_finished")); got != 1 {
		t.Fatalf("b task_finished = %v, want 1", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics("browsercloud")
	m.ObserveAllocation("a")
	m.ObserveStage("run_total", 2*time.Second)
	m.ObserveTaskFailure("Timeout")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`browsercloud_endpoint_allocations_total{endpoint="a"} 1`,
		`browsercloud_task_duration_seconds_count 1`,
		`browsercloud_task_failures_total{kind="Timeout"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	snap := m.RunSnapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "run_total" {
		t.Fatalf("Stages = %+v", snap.Stages)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTaskEvent("task_queued")
	m.ObserveStage("run_total", time.Second)
	m.ObserveArchive("ok")
	if snap := m.RunSnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("Stages = %+v", snap.Stages)
	}
}
