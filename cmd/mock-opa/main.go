// mock-opa is a lightweight stand-in for the decision service used in
// local development and integration tests. It stores uploaded policies
// and evaluates queries against the equality constraints found in them;
// comparisons it cannot interpret are treated as satisfied.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prompted365/golf/pkg/httpx"
	"github.com/prompted365/golf/pkg/telemetry"
)

type Store struct {
	mu       sync.Mutex
	policies map[string]string
}

var (
	actionRe   = regexp.MustCompile(`input\.action == "([^"]+)"`)
	typeRe     = regexp.MustCompile(`input\.resource\.type == "([^"]+)"`)
	resourceRe = regexp.MustCompile(`input\.resource\.([a-z_]+) == "([^"]+)"`)
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runMockOPA(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

func (s *Store) putPolicy(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	content, err := io.ReadAll(r.Body)
	if err != nil || len(content) == 0 {
		httpx.Error(w, 400, "policy body required")
		return
	}
	s.mu.Lock()
	s.policies[path] = string(content)
	s.mu.Unlock()
	httpx.WriteJSON(w, 200, map[string]any{})
}

func (s *Store) deletePolicy(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	s.mu.Lock()
	_, ok := s.policies[path]
	delete(s.policies, path)
	s.mu.Unlock()
	if !ok {
		httpx.Error(w, 404, "policy not found")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{})
}

func (s *Store) listPolicies(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.policies))
	for p := range s.policies {
		paths = append(paths, p)
	}
	s.mu.Unlock()
	httpx.WriteJSON(w, 200, map[string]any{"result": paths})
}

type queryInput struct {
	Input struct {
		Action   string         `json:"action"`
		Resource map[string]any `json:"resource"`
	} `json:"input"`
}

// query answers POST /v1/data/{path...}: the last path segment names the
// rule, the rest the package. An unknown package yields an empty object,
// the undefined-decision shape clients fall back from.
func (s *Store) query(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		httpx.Error(w, 400, "rule path required")
		return
	}
	rule := segments[len(segments)-1]
	pkgPath := strings.Join(segments[:len(segments)-1], "/")

	var q queryInput
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}

	s.mu.Lock()
	content, ok := s.policies[pkgPath]
	s.mu.Unlock()
	if !ok {
		httpx.WriteJSON(w, 200, map[string]any{})
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"result": s.evaluate(content, rule, q)})
}

// evaluate fires the rule when the input satisfies every equality
// constraint the policy states for it.
func (s *Store) evaluate(content, rule string, q queryInput) bool {
	if !strings.Contains(content, rule+" {") {
		return false
	}
	if actions := actionRe.FindAllStringSubmatch(content, -1); len(actions) > 0 {
		matched := false
		for _, m := range actions {
			if m[1] == q.Input.Action {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	resourceType, _ := q.Input.Resource["type"].(string)
	if m := typeRe.FindStringSubmatch(content); m != nil && m[1] != resourceType {
		return false
	}
	for _, m := range resourceRe.FindAllStringSubmatch(content, -1) {
		field, want := m[1], m[2]
		if field == "type" {
			continue
		}
		got, present := q.Input.Resource[field]
		if !present {
			continue
		}
		if str, ok := got.(string); ok && str != want {
			return false
		}
	}
	return true
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func newRouter(store *Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("mock-opa"))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{})
	})
	r.Put("/v1/policies/*", store.putPolicy)
	r.Delete("/v1/policies/*", store.deletePolicy)
	r.Get("/v1/policies", store.listPolicies)
	r.Post("/v1/data/*", store.query)
	return r
}

func runMockOPA(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "mock-opa")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	store := &Store{policies: map[string]string{}}
	addr := env("ADDR", ":8181")
	log.Printf("mock-opa listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(store),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}
