package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("GET /healthz", 200, 15*time.Millisecond)
	r.Observe("GET /healthz", 503, 35*time.Millisecond)
	r.IncVerdict("ALLOW")
	r.IncVerdict("ALLOW")
	r.IncParseOutcome("ok")
	r.IncParseOutcome("grammar_error")
	r.IncCoercionFailure("email_address")
	r.IncSchemaEvent("gmail")
	r.IncPolicyUploads()
	r.IncCacheHit()
	r.IncCacheMiss()
	r.SetGauge("registered_integrations", 2)

	snap := r.Snapshot()
	ep, ok := snap.Endpoints["GET /healthz"]
	if !ok {
		t.Fatal("missing endpoint metric")
	}
	if ep.Count != 2 {
		t.Fatalf("expected count=2 got=%d", ep.Count)
	}
	if ep.ErrorCount != 1 {
		t.Fatalf("expected error_count=1 got=%d", ep.ErrorCount)
	}
	if ep.MaxMillis != 35 {
		t.Fatalf("expected max_millis=35 got=%d", ep.MaxMillis)
	}
	if snap.Verdicts["ALLOW"] != 2 {
		t.Fatalf("expected ALLOW=2 got=%d", snap.Verdicts["ALLOW"])
	}
	if snap.ParseOutcomes["ok"] != 1 || snap.ParseOutcomes["grammar_error"] != 1 {
		t.Fatalf("unexpected parse outcomes: %#v", snap.ParseOutcomes)
	}
	if snap.CoercionFailures["email_address"] != 1 {
		t.Fatalf("unexpected coercion failures: %#v", snap.CoercionFailures)
	}
	if snap.SchemaEvents["gmail"] != 1 {
		t.Fatalf("unexpected schema events: %#v", snap.SchemaEvents)
	}
	if snap.PolicyUploads != 1 || snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Fatalf("unexpected totals: %#v", snap)
	}
	if snap.Gauges["registered_integrations"] != 2 {
		t.Fatalf("expected gauge registered_integrations=2 got=%v", snap.Gauges["registered_integrations"])
	}
}

func TestDecisionLatency(t *testing.T) {
	r := NewRegistry()
	r.ObserveDecisionLatency(10 * time.Millisecond)
	r.ObserveDecisionLatency(30 * time.Millisecond)
	snap := r.Snapshot()
	if snap.DecisionLatencyMS.Count != 2 || snap.DecisionLatencyMS.MaxMS != 30 || snap.DecisionLatencyMS.LastMS != 30 {
		t.Fatalf("unexpected latency stat: %#v", snap.DecisionLatencyMS)
	}
	if snap.DecisionLatencyMS.AvgMS != 20 {
		t.Fatalf("expected avg=20 got=%v", snap.DecisionLatencyMS.AvgMS)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys got=%d", len(keys))
	}
	if keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/statements/parse", 200, 12*time.Millisecond)
	r.Observe("POST /v1/statements/parse", 500, 20*time.Millisecond)
	r.IncVerdict("ALLOW")
	r.IncParseOutcome("ok")
	r.IncCoercionFailure("number")
	r.SetGauge("registered_integrations", 7)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	r.PrometheusHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "golf_endpoint_count") {
		t.Fatalf("missing endpoint metric: %s", body)
	}
	if !strings.Contains(body, "golf_verdict_total{verdict=\"ALLOW\"} 1") {
		t.Fatalf("missing verdict metric: %s", body)
	}
	if !strings.Contains(body, "golf_parse_outcome_total{outcome=\"ok\"} 1") {
		t.Fatalf("missing parse outcome metric: %s", body)
	}
	if !strings.Contains(body, "golf_coercion_failure_total{data_type=\"number\"} 1") {
		t.Fatalf("missing coercion metric: %s", body)
	}
	if !strings.Contains(body, "golf_gauge{name=\"registered_integrations\"} 7.000") {
		t.Fatalf("missing gauge metric: %s", body)
	}
}

func TestJSONHandler(t *testing.T) {
	r := NewRegistry()
	r.IncParseOutcome("ok")
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if !strings.Contains(rr.Body.String(), `"parse_outcomes"`) {
		t.Fatalf("missing parse outcomes: %s", rr.Body.String())
	}
}
