package telemetry

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func decisionFor(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "sampler-check",
	}).Decision
}

func TestParseSampler(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, arg string
		want      sdktrace.SamplingDecision
	}{
		{"always_on", "", sdktrace.RecordAndSample},
		{"always_off", "", sdktrace.Drop},
		{"traceidratio", "2", sdktrace.RecordAndSample},  // clamps to 1
		{"traceidratio", "-1", sdktrace.Drop},            // clamps to 0
		{"parentbased_traceidratio", "0", sdktrace.Drop}, // no sampled parent
		{"", "", sdktrace.RecordAndSample},
		{"bogus", "not-a-float", sdktrace.RecordAndSample},
	}
	for _, tc := range cases {
		if got := decisionFor(parseSampler(tc.name, tc.arg)); got != tc.want {
			t.Errorf("parseSampler(%q, %q) decision = %v, want %v", tc.name, tc.arg, got, tc.want)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	got := parseHeaders("authorization=Bearer abc, x-tenant = acme ,no-equals, =orphan,")
	if len(got) != 2 || got["authorization"] != "Bearer abc" || got["x-tenant"] != "acme" {
		t.Fatalf("parseHeaders = %#v", got)
	}
	if parseHeaders("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("GOLF_TEST_TIMEOUT", "9")
	if got := envInt("GOLF_TEST_TIMEOUT", 5); got != 9 {
		t.Fatalf("envInt = %d", got)
	}
	t.Setenv("GOLF_TEST_TIMEOUT", "nope")
	if got := envInt("GOLF_TEST_TIMEOUT", 5); got != 5 {
		t.Fatalf("envInt fallback = %d", got)
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_REQUIRED", "false")

	shutdown, err := Init(context.Background(), "gateway")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("missing shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitExporterFailureModes(t *testing.T) {
	// A pre-cancelled context makes exporter construction fail fast.
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	t.Setenv("OTEL_REQUIRED", "false")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown, err := Init(ctx, "gateway")
	if err != nil {
		t.Fatalf("optional exporter should degrade, got %v", err)
	}
	_ = shutdown(context.Background())

	t.Setenv("OTEL_REQUIRED", "true")
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := Init(ctx, "gateway"); err == nil {
		t.Fatal("OTEL_REQUIRED=true must surface the exporter error")
	}
}

func TestInitExporterRequiredBadEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host := ln.Addr().String()
	_ = ln.Close()

	// A scheme in the endpoint is rejected by the OTLP HTTP exporter.
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://"+host)
	t.Setenv("OTEL_REQUIRED", "true")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Init(ctx, "gateway"); err == nil {
		t.Fatal("expected exporter init error")
	}
}

func TestInitExportsToCollector(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/traces") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	u, err := url.Parse(collector.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", u.Host)
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-scope=golf")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", "1")
	t.Setenv("OTEL_REQUIRED", "true")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdown, err := Init(ctx, "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	for _, name := range []string{"gateway", "   "} {
		handler := HTTPMiddleware(name)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("service %q: status = %d", name, rr.Code)
		}
	}
}

func TestInstrumentClient(t *testing.T) {
	client := InstrumentClient(nil)
	if client == nil || client.Transport == nil {
		t.Fatal("nil client should get a fresh instrumented one")
	}

	own := &http.Client{Transport: http.DefaultTransport}
	if InstrumentClient(own) != own {
		t.Fatal("existing client should be mutated in place")
	}
	if own.Transport == http.DefaultTransport {
		t.Fatal("transport should be wrapped")
	}
}
