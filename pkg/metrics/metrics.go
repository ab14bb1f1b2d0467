package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry collects process-local counters for the statement pipeline
// and the gateway. Exposed as JSON for operators and as Prometheus text
// for scrapers.
type Registry struct {
	mu              sync.RWMutex
	endpoint        map[string]*EndpointStat
	parseOutcome    map[string]int64
	coercionFailure map[string]int64
	verdict         map[string]int64
	schemaEvents    map[string]int64
	gauges          map[string]float64
	policyUploads   int64
	cacheHits       int64
	cacheMisses     int64
	decisionLatency DecisionLatencyStat
	Histograms      *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

// DecisionLatencyStat tracks round trips to the decision service.
type DecisionLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt       string                  `json:"generated_at"`
	Endpoints         map[string]EndpointStat `json:"endpoints"`
	ParseOutcomes     map[string]int64        `json:"parse_outcomes"`
	CoercionFailures  map[string]int64        `json:"coercion_failures"`
	Verdicts          map[string]int64        `json:"verdicts"`
	SchemaEvents      map[string]int64        `json:"schema_events"`
	Gauges            map[string]float64      `json:"gauges"`
	PolicyUploads     int64                   `json:"policy_uploads_total"`
	CacheHits         int64                   `json:"decision_cache_hits_total"`
	CacheMisses       int64                   `json:"decision_cache_misses_total"`
	DecisionLatencyMS DecisionLatencyStat     `json:"decision_latency_ms"`
	Histograms        []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:        map[string]*EndpointStat{},
		parseOutcome:    map[string]int64{},
		coercionFailure: map[string]int64{},
		verdict:         map[string]int64{},
		schemaEvents:    map[string]int64{},
		gauges:          map[string]float64{},
		Histograms:      NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncParseOutcome counts one pipeline run by its terminal outcome, "ok"
// or an error kind such as "grammar_error".
func (r *Registry) IncParseOutcome(outcome string) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.parseOutcome[outcome]++
	r.mu.Unlock()
}

// IncCoercionFailure counts a rejected value by data type.
func (r *Registry) IncCoercionFailure(dataType string) {
	if dataType == "" {
		return
	}
	r.mu.Lock()
	r.coercionFailure[dataType]++
	r.mu.Unlock()
}

func (r *Registry) IncVerdict(verdict string) {
	if verdict == "" {
		return
	}
	r.mu.Lock()
	r.verdict[verdict]++
	r.mu.Unlock()
}

// IncSchemaEvent counts one applied schema update by integration.
func (r *Registry) IncSchemaEvent(integration string) {
	if integration == "" {
		return
	}
	r.mu.Lock()
	r.schemaEvents[integration]++
	r.mu.Unlock()
}

func (r *Registry) IncPolicyUploads() {
	r.mu.Lock()
	r.policyUploads++
	r.mu.Unlock()
}

func (r *Registry) IncCacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

func (r *Registry) IncCacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

func (r *Registry) ObserveDecisionLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisionLatency.Count++
	r.decisionLatency.TotalMS += ms
	r.decisionLatency.LastMS = ms
	if ms > r.decisionLatency.MaxMS {
		r.decisionLatency.MaxMS = ms
	}
	r.decisionLatency.AvgMS = float64(r.decisionLatency.TotalMS) / float64(r.decisionLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
		Endpoints:         make(map[string]EndpointStat, len(r.endpoint)),
		ParseOutcomes:     make(map[string]int64, len(r.parseOutcome)),
		CoercionFailures:  make(map[string]int64, len(r.coercionFailure)),
		Verdicts:          make(map[string]int64, len(r.verdict)),
		SchemaEvents:      make(map[string]int64, len(r.schemaEvents)),
		Gauges:            make(map[string]float64, len(r.gauges)),
		PolicyUploads:     r.policyUploads,
		CacheHits:         r.cacheHits,
		CacheMisses:       r.cacheMisses,
		DecisionLatencyMS: r.decisionLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.parseOutcome {
		out.ParseOutcomes[k] = v
	}
	for k, v := range r.coercionFailure {
		out.CoercionFailures[k] = v
	}
	for k, v := range r.verdict {
		out.Verdicts[k] = v
	}
	for k, v := range r.schemaEvents {
		out.SchemaEvents[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP golf_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE golf_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "golf_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP golf_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE golf_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "golf_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP golf_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE golf_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "golf_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP golf_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE golf_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "golf_endpoint_max_millis{endpoint=%q} %d\n", ep, snap.Endpoints[ep].MaxMillis)
		}
		b.WriteString("# HELP golf_parse_outcome_total statement pipeline runs by outcome\n")
		b.WriteString("# TYPE golf_parse_outcome_total counter\n")
		for _, outcome := range SortedKeys(snap.ParseOutcomes) {
			fmt.Fprintf(b, "golf_parse_outcome_total{outcome=%q} %d\n", outcome, snap.ParseOutcomes[outcome])
		}
		b.WriteString("# HELP golf_coercion_failure_total rejected values by data type\n")
		b.WriteString("# TYPE golf_coercion_failure_total counter\n")
		for _, dt := range SortedKeys(snap.CoercionFailures) {
			fmt.Fprintf(b, "golf_coercion_failure_total{data_type=%q} %d\n", dt, snap.CoercionFailures[dt])
		}
		b.WriteString("# HELP golf_verdict_total access checks by verdict\n")
		b.WriteString("# TYPE golf_verdict_total counter\n")
		for _, verdict := range SortedKeys(snap.Verdicts) {
			fmt.Fprintf(b, "golf_verdict_total{verdict=%q} %d\n", verdict, snap.Verdicts[verdict])
		}
		b.WriteString("# HELP golf_schema_event_total applied schema updates by integration\n")
		b.WriteString("# TYPE golf_schema_event_total counter\n")
		for _, integration := range SortedKeys(snap.SchemaEvents) {
			fmt.Fprintf(b, "golf_schema_event_total{integration=%q} %d\n", integration, snap.SchemaEvents[integration])
		}
		b.WriteString("# HELP golf_policy_uploads_total policies uploaded to the decision service\n")
		b.WriteString("# TYPE golf_policy_uploads_total counter\n")
		fmt.Fprintf(b, "golf_policy_uploads_total %d\n", snap.PolicyUploads)
		b.WriteString("# HELP golf_decision_cache_hits_total decision cache hits\n")
		b.WriteString("# TYPE golf_decision_cache_hits_total counter\n")
		fmt.Fprintf(b, "golf_decision_cache_hits_total %d\n", snap.CacheHits)
		b.WriteString("# HELP golf_decision_cache_misses_total decision cache misses\n")
		b.WriteString("# TYPE golf_decision_cache_misses_total counter\n")
		fmt.Fprintf(b, "golf_decision_cache_misses_total %d\n", snap.CacheMisses)
		b.WriteString("# HELP golf_gauge operational gauge metrics\n")
		b.WriteString("# TYPE golf_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "golf_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP golf_decision_latency_ms decision service round trip in ms\n")
		b.WriteString("# TYPE golf_decision_latency_ms gauge\n")
		fmt.Fprintf(b, "golf_decision_latency_ms{stat=%q} %d\n", "last", snap.DecisionLatencyMS.LastMS)
		fmt.Fprintf(b, "golf_decision_latency_ms{stat=%q} %.3f\n", "avg", snap.DecisionLatencyMS.AvgMS)
		fmt.Fprintf(b, "golf_decision_latency_ms{stat=%q} %d\n", "max", snap.DecisionLatencyMS.MaxMS)
		for _, h := range snap.Histograms {
			b.WriteString("# HELP golf_latency_seconds latency histogram\n")
			b.WriteString("# TYPE golf_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "golf_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "golf_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "golf_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "golf_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "golf_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "golf_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "golf_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
