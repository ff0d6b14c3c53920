package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveRequest(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("getAllCategories", "get", 200, RequestOK, 250*time.Millisecond)

	families := gather(t, rec, "admindata_backend_requests_total", "admindata_backend_request_duration_seconds")

	counter := findMetric(t, families["admindata_backend_requests_total"], map[string]string{
		"endpoint":    "getAllCategories",
		"method":      "GET",
		"status_code": "200",
		"outcome":     "ok",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["admindata_backend_request_duration_seconds"], map[string]string{
		"endpoint": "getAllCategories",
		"method":   "GET",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for request latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveRequestWithoutStatus(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("", "POST", 0, RequestNetworkError, time.Millisecond)

	families := gather(t, rec, "admindata_backend_requests_total")
	findMetric(t, families["admindata_backend_requests_total"], map[string]string{
		"endpoint":    "unknown",
		"status_code": "none",
		"outcome":     "network_error",
	})
}

func TestRecorderObserveCacheEvents(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCache("generalStats", CacheMiss)
	rec.ObserveCache("generalStats", CacheJoin)
	rec.ObserveCache("generalStats", CacheJoin)
	rec.ObserveInvalidation("AdminData", 3)
	rec.ObserveInvalidation("Category", 0)
	rec.SetEntries(4)

	families := gather(t, rec, "admindata_cache_events_total", "admindata_cache_invalidations_total", "admindata_cache_entries")

	join := findMetric(t, families["admindata_cache_events_total"], map[string]string{
		"endpoint": "generalStats",
		"event":    string(CacheJoin),
	})
	if got := join.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected join counter 2, got %v", got)
	}

	invalidated := findMetric(t, families["admindata_cache_invalidations_total"], map[string]string{"tag": "AdminData"})
	if got := invalidated.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected invalidation counter 3, got %v", got)
	}
	if len(families["admindata_cache_invalidations_total"]) != 1 {
		t.Fatalf("expected zero-count invalidations to be skipped")
	}

	entries := families["admindata_cache_entries"][0]
	if got := entries.GetGauge().GetValue(); got != 4 {
		t.Fatalf("expected entries gauge 4, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("x", "GET", 200, RequestOK, time.Second)
	rec.ObserveCache("x", CacheHit)
	rec.ObserveInvalidation("Category", 1)
	rec.SetEntries(1)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
