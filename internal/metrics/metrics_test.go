package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserversDoNotPanic(t *testing.T) {
	ObserveRun(true, 3, 0, 1, 2*time.Second)
	ObserveRun(false, 1, 2, 0, 500*time.Millisecond)
	IncActiveProcessors()
	DecActiveProcessors()
	ObserveProcessor(true, 100*time.Millisecond)
	ObserveProcessor(false, time.Second)
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRun(true, 1, 0, 0, time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"batch_runs_total", "batch_items_total", "batch_run_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected metric %q in output", name)
		}
	}
}
