package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prompted365/golf/pkg/audit"
	"github.com/prompted365/golf/pkg/auth"
	"github.com/prompted365/golf/pkg/builder"
	"github.com/prompted365/golf/pkg/coerce"
	"github.com/prompted365/golf/pkg/grammar"
	"github.com/prompted365/golf/pkg/hardening"
	"github.com/prompted365/golf/pkg/httpx"
	"github.com/prompted365/golf/pkg/metrics"
	"github.com/prompted365/golf/pkg/models"
	"github.com/prompted365/golf/pkg/opa"
	"github.com/prompted365/golf/pkg/policygen"
	"github.com/prompted365/golf/pkg/ratelimit"
	"github.com/prompted365/golf/pkg/schema"
	"github.com/prompted365/golf/pkg/schemafeed"
	"github.com/prompted365/golf/pkg/store"
	"github.com/prompted365/golf/pkg/telemetry"
)

// decisionClient is the slice of the decision-service client the gateway
// uses; tests substitute fakes.
type decisionClient interface {
	CheckAccess(ctx context.Context, req *models.AccessRequest, effect models.Effect) (*models.AccessResult, error)
	AddPolicy(ctx context.Context, policy *models.RegoPolicy) (string, error)
	RemovePolicy(ctx context.Context, policyID string) (bool, error)
	RemovePolicyPackage(ctx context.Context, pkg string) (bool, error)
	ListPolicies() []*models.RegoPolicy
	Health(ctx context.Context) error
}

type schemaStore interface {
	Save(ctx context.Context, s *models.IntegrationSchema) error
	LoadAll(ctx context.Context) ([]*models.IntegrationSchema, error)
	Delete(ctx context.Context, integration string) error
}

type policyStore interface {
	Save(ctx context.Context, p store.RegisteredPolicy) error
	Get(ctx context.Context, policyID string) (store.RegisteredPolicy, error)
	ListByIntegration(ctx context.Context, integration string) ([]store.RegisteredPolicy, error)
	Delete(ctx context.Context, policyID string) error
}

type auditStore interface {
	Append(ctx context.Context, rec audit.Record) error
	Get(ctx context.Context, decisionID, integration string) (audit.Record, error)
}

type Server struct {
	Registry  *schema.Registry
	Builder   *builder.Builder
	Generator *policygen.RegoGenerator
	Decisions decisionClient
	Schemas   schemaStore
	Policies  policyStore
	Audit     auditStore
	Cache     store.Cache
	Metrics   *metrics.Registry

	RateLimiter        ratelimit.Limiter
	RateLimitEnabled   bool
	RateLimitPerMinute int

	DecisionCacheTTL    time.Duration
	AuthMode            string
	AuthSecret          string
	MaxRequestBodyBytes int64
}

type gatewayDeps struct {
	Schemas  schemaStore
	Policies policyStore
	Audit    auditStore
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context) (gatewayDeps, func(), error)
	openRedisFn     func(context.Context) (*redis.Client, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, openDBFn, openRedisFn, listenFn); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (gatewayDeps, func(), error),
	openRedis func(context.Context) (*redis.Client, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = func(ctx context.Context) (gatewayDeps, func(), error) {
			pool, err := store.NewPostgresPool(ctx)
			if err != nil {
				return gatewayDeps{}, nil, err
			}
			auditSalt := env("AUDIT_HASH_SALT", "")
			auditRedact := strings.EqualFold(strings.TrimSpace(env("AUDIT_REDACT", "true")), "true")
			return gatewayDeps{
				Schemas:  &store.SchemaStore{DB: pool},
				Policies: &store.PolicyStore{DB: pool},
				Audit:    &audit.Writer{DB: pool, HashSalt: []byte(auditSalt), Redact: auditRedact},
			}, pool.Close, nil
		}
	}
	if openRedis == nil {
		openRedis = store.NewRedis
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	deps, closeDB, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if closeDB != nil {
		defer closeDB()
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	registry := schema.NewRegistry()
	if env("BUILTIN_SCHEMAS", "true") == "true" {
		if err := schema.RegisterBuiltins(registry); err != nil {
			return fmt.Errorf("builtin schemas: %w", err)
		}
	}
	if deps.Schemas != nil {
		persisted, err := deps.Schemas.LoadAll(ctx)
		if err != nil {
			log.Printf("schema warmup failed: %v", err)
		}
		for _, ps := range persisted {
			if err := registry.Register(ps); err != nil {
				log.Printf("schema warmup rejected %q: %v", ps.Integration, err)
			}
		}
	}

	opaClient := opa.New(env("OPA_URL", "http://localhost:8181"),
		opa.WithRetries(envInt("OPA_RETRIES", 2), time.Millisecond*time.Duration(envInt("OPA_RETRY_DELAY_MS", 200))))

	decisionCacheTTL := time.Second * time.Duration(envInt("DECISION_CACHE_TTL_SEC", 30))
	if decisionCacheTTL <= 0 {
		decisionCacheTTL = 30 * time.Second
	}
	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}
	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}

	s := &Server{
		Registry:            registry,
		Builder:             builder.New(registry),
		Generator:           policygen.NewRegoGenerator(),
		Decisions:           opaClient,
		Schemas:             deps.Schemas,
		Policies:            deps.Policies,
		Audit:               deps.Audit,
		Cache:               cache,
		Metrics:             metrics.NewRegistry(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 240),
		DecisionCacheTTL:    decisionCacheTTL,
		AuthMode:            env("AUTH_MODE", "oidc_hs256"),
		AuthSecret:          env("OIDC_HS256_SECRET", ""),
		MaxRequestBodyBytes: maxRequestBodyBytes,
	}
	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if strings.EqualFold(s.AuthMode, "off") {
		if env("ALLOW_INSECURE_AUTH_OFF", "false") != "true" {
			return errors.New("AUTH_MODE=off is disabled unless ALLOW_INSECURE_AUTH_OFF=true")
		}
		if isProductionLikeEnv(runtimeEnv) {
			return errors.New("AUTH_MODE=off is forbidden in production-like environments")
		}
		if !isExplicitNonProductionEnv(runtimeEnv) && !isTestBinaryProcess() {
			return errors.New("AUTH_MODE=off requires ENVIRONMENT=development|dev|local|test")
		}
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:                   "gateway",
		Environment:               runtimeEnv,
		StrictProdSecurity:        env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:        env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:                 env("REDIS_ADDR", ""),
		RedisRequireTLS:           env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:          env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS:     env("REDIS_ALLOW_INSECURE_TLS", ""),
		DecisionServiceURL:        env("OPA_URL", ""),
		DecisionServiceAllowPlain: env("OPA_ALLOW_PLAINTEXT", ""),
		CORSAllowedOrigins:        env("CORS_ALLOWED_ORIGINS", ""),
	}); err != nil {
		return err
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	if env("KAFKA_ENABLED", "false") == "true" {
		consumer, err := schemafeed.NewKafkaConsumer(schemafeed.KafkaConfig{
			Brokers: strings.Split(env("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   env("KAFKA_TOPIC", "golf.schema.events"),
			GroupID: env("KAFKA_GROUP_ID", "golf-gateway"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Close() }()
		feed := &schemafeed.Feed{
			Bus:      consumer,
			Registry: registry,
			Store:    deps.Schemas,
			Metrics:  s.Metrics,
		}
		go feed.Run(feedCtx)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})

	api := chi.NewRouter()
	authTimeout := time.Millisecond * time.Duration(envInt("AUTH_TIMEOUT_MS", 5000))
	api.Use(auth.Middleware(
		s.AuthMode,
		s.AuthSecret,
		auth.WithJWKS(env("OIDC_JWKS_URL", "")),
		auth.WithIssuer(env("OIDC_ISSUER", "")),
		auth.WithAudience(env("OIDC_AUDIENCE", "")),
		auth.WithTimeout(authTimeout),
	))
	api.Get("/metrics", s.Metrics.Handler())
	api.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	api.Post("/v1/statements/parse", s.parseStatement)
	api.Post("/v1/permissions", s.createPermission)
	api.Get("/v1/permissions", s.listPermissions)
	api.Delete("/v1/permissions/{policy_id}", s.deletePermission)
	api.Post("/v1/access/check", s.checkAccess)
	api.Get("/v1/integrations", s.listIntegrations)
	api.Post("/v1/integrations", s.registerIntegration)
	api.Get("/v1/integrations/{integration}", s.getIntegration)
	api.Delete("/v1/integrations/{integration}", s.deleteIntegration)
	api.Get("/v1/audit/{decision_id}", s.getAudit)
	api.Get("/v1/playground", s.playground)
	r.Mount("/", api)
	return r
}

type statementRequest struct {
	Statement   string `json:"statement"`
	Integration string `json:"integration"`
	Template    string `json:"template,omitempty"`
}

type statementResponse struct {
	Statement *models.PermissionStatement     `json:"statement"`
	Document  *models.GeneratedPolicyDocument `json:"document"`
}

func (s *Server) parseStatement(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatementRequest(w, r)
	if !ok {
		return
	}
	if blocked, retryAfter := s.checkRateLimit(r, "parse:"+req.Integration); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.Error(w, 429, "rate limit exceeded")
		return
	}
	st, err := s.Builder.ParseStatement(r.Context(), req.Statement, req.Integration)
	if err != nil {
		s.Metrics.IncParseOutcome("rejected")
		s.statementError(w, err)
		return
	}
	s.Metrics.IncParseOutcome("accepted")
	httpx.WriteJSON(w, 200, statementResponse{
		Statement: st,
		Document:  policygen.Translate(st),
	})
}

func (s *Server) createPermission(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeStatementRequest(w, r)
	if !ok {
		return
	}
	if blocked, retryAfter := s.checkRateLimit(r, "register:"+req.Integration); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.Error(w, 429, "rate limit exceeded")
		return
	}
	st, err := s.Builder.ParseStatement(r.Context(), req.Statement, req.Integration)
	if err != nil {
		s.Metrics.IncParseOutcome("rejected")
		s.statementError(w, err)
		return
	}
	s.Metrics.IncParseOutcome("accepted")
	doc := policygen.Translate(st)
	policy, err := s.Generator.Generate(st, req.Template)
	if err != nil {
		httpx.Error(w, 422, "policy generation failed: "+err.Error())
		return
	}
	policyID, err := s.Decisions.AddPolicy(r.Context(), policy)
	if err != nil {
		internalServerError(w, "upload policy", err)
		return
	}
	s.Metrics.IncPolicyUploads()
	if s.Policies != nil {
		docJSON, _ := json.Marshal(doc)
		if err := s.Policies.Save(r.Context(), store.RegisteredPolicy{
			ID:          policyID,
			Integration: req.Integration,
			Statement:   req.Statement,
			Package:     policy.Package,
			Content:     policy.Content,
			Document:    docJSON,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			log.Printf("gateway persist policy %s: %v", policyID, err)
		}
	}
	httpx.WriteJSON(w, 201, map[string]any{
		"policy_id": policyID,
		"package":   policy.Package,
		"document":  doc,
		"rego":      policy.Content,
	})
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	integration := strings.TrimSpace(r.URL.Query().Get("integration"))
	if s.Policies != nil && integration != "" {
		items, err := s.Policies.ListByIntegration(r.Context(), integration)
		if err != nil {
			internalServerError(w, "list policies", err)
			return
		}
		out := make([]map[string]any, 0, len(items))
		for _, p := range items {
			out = append(out, map[string]any{
				"policy_id":  p.ID,
				"statement":  p.Statement,
				"package":    p.Package,
				"document":   p.Document,
				"created_at": p.CreatedAt,
			})
		}
		httpx.WriteJSON(w, 200, map[string]any{"items": out})
		return
	}
	policies := s.Decisions.ListPolicies()
	out := make([]map[string]any, 0, len(policies))
	for _, p := range policies {
		out = append(out, map[string]any{"policy_id": p.ID, "package": p.Package})
	}
	httpx.WriteJSON(w, 200, map[string]any{"items": out})
}

func (s *Server) deletePermission(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	removed, err := s.Decisions.RemovePolicy(r.Context(), policyID)
	if err != nil {
		internalServerError(w, "remove policy", err)
		return
	}
	if !removed {
		// The decision client only indexes its own uploads; policies
		// registered before a restart are recovered from the store.
		removed, err = s.removeStoredPolicy(r.Context(), policyID)
		if err != nil {
			internalServerError(w, "remove policy", err)
			return
		}
	}
	if !removed {
		httpx.Error(w, 404, "policy not found")
		return
	}
	if s.Policies != nil {
		if err := s.Policies.Delete(r.Context(), policyID); err != nil {
			log.Printf("gateway delete policy %s: %v", policyID, err)
		}
	}
	httpx.WriteJSON(w, 200, map[string]string{"policy_id": policyID, "status": "removed"})
}

func (s *Server) removeStoredPolicy(ctx context.Context, policyID string) (bool, error) {
	if s.Policies == nil {
		return false, nil
	}
	p, err := s.Policies.Get(ctx, policyID)
	if err != nil || p.Package == "" {
		return false, nil
	}
	return s.Decisions.RemovePolicyPackage(ctx, p.Package)
}

type accessCheckRequest struct {
	Action      models.Permission    `json:"action"`
	Resource    models.ResourceFacts `json:"resource"`
	Context     map[string]any       `json:"context,omitempty"`
	Effect      models.Effect        `json:"effect,omitempty"`
	Integration string               `json:"integration,omitempty"`
}

func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req accessCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(string(req.Action)) == "" || strings.TrimSpace(req.Resource.Type) == "" {
		httpx.Error(w, 400, "action and resource.type required")
		return
	}
	effect := req.Effect
	if effect == "" {
		effect = models.EffectGive
	}
	if effect != models.EffectGive && effect != models.EffectDeny {
		httpx.Error(w, 400, "effect must be GIVE or DENY")
		return
	}
	scope := strings.ToLower(strings.TrimSpace(req.Resource.Type)) + ":" + strings.ToLower(strings.TrimSpace(string(req.Action)))
	if blocked, retryAfter := s.checkRateLimit(r, scope); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.Error(w, 429, "rate limit exceeded")
		return
	}

	decisionID := uuid.New().String()
	digest, err := models.DigestJSON(body)
	if err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	cacheKey := "decision:" + string(effect) + ":" + digest
	if s.Cache != nil {
		if cached, err := s.Cache.Get(r.Context(), cacheKey); err == nil && cached != "" {
			var result models.AccessResult
			if json.Unmarshal([]byte(cached), &result) == nil {
				s.Metrics.IncCacheHit()
				httpx.WriteJSON(w, 200, map[string]any{
					"decision_id": decisionID,
					"allowed":     result.Allowed,
					"reason":      result.Reason,
					"cached":      true,
				})
				return
			}
		}
		s.Metrics.IncCacheMiss()
	}

	start := time.Now()
	result, err := s.Decisions.CheckAccess(r.Context(), &models.AccessRequest{
		Action:   req.Action,
		Resource: req.Resource,
		Context:  req.Context,
	}, effect)
	s.Metrics.ObserveDecisionLatency(time.Since(start))
	if err != nil {
		internalServerError(w, "check access", err)
		return
	}
	if result.Allowed {
		s.Metrics.IncVerdict("allowed")
	} else {
		s.Metrics.IncVerdict("denied")
	}
	if s.Cache != nil {
		if encoded, err := json.Marshal(result); err == nil {
			_ = s.Cache.Set(r.Context(), cacheKey, string(encoded), s.DecisionCacheTTL)
		}
	}
	if s.Audit != nil {
		if err := s.Audit.Append(r.Context(), audit.Record{
			DecisionID:   decisionID,
			Integration:  req.Integration,
			Action:       string(req.Action),
			ResourceType: req.Resource.Type,
			Allowed:      result.Allowed,
			Reason:       result.Reason,
			InputRaw:     body,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			log.Printf("gateway audit append %s: %v", decisionID, err)
		}
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"decision_id": decisionID,
		"allowed":     result.Allowed,
		"reason":      result.Reason,
	})
}

func (s *Server) listIntegrations(w http.ResponseWriter, r *http.Request) {
	names := s.Registry.Integrations()
	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		items = append(items, map[string]any{
			"integration":    name,
			"resource_types": s.Registry.ResourceTypes(name),
		})
	}
	httpx.WriteJSON(w, 200, map[string]any{"items": items})
}

func (s *Server) registerIntegration(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var schemaDef models.IntegrationSchema
	if err := json.Unmarshal(body, &schemaDef); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if err := s.Registry.Register(&schemaDef); err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	if s.Schemas != nil {
		if err := s.Schemas.Save(r.Context(), &schemaDef); err != nil {
			log.Printf("gateway persist schema %q: %v", schemaDef.Integration, err)
		}
	}
	s.Metrics.IncSchemaEvent(schemaDef.Integration)
	httpx.WriteJSON(w, 201, map[string]string{"integration": schemaDef.Integration})
}

func (s *Server) getIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "integration")
	schemaDef, ok := s.Registry.Integration(name)
	if !ok {
		httpx.Error(w, 404, "unknown integration")
		return
	}
	httpx.WriteJSON(w, 200, schemaDef)
}

func (s *Server) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "integration")
	if !s.Registry.Deregister(name) {
		httpx.Error(w, 404, "unknown integration")
		return
	}
	if s.Schemas != nil {
		if err := s.Schemas.Delete(r.Context(), name); err != nil {
			log.Printf("gateway delete schema %q: %v", name, err)
		}
	}
	httpx.WriteJSON(w, 200, map[string]string{"integration": name, "status": "removed"})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		httpx.Error(w, 503, "audit unavailable")
		return
	}
	decisionID := chi.URLParam(r, "decision_id")
	rec, err := s.Audit.Get(r.Context(), decisionID, r.URL.Query().Get("integration"))
	if err != nil {
		httpx.Error(w, 404, "not found")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"decision_id":   rec.DecisionID,
		"integration":   rec.Integration,
		"action":        rec.Action,
		"resource_type": rec.ResourceType,
		"allowed":       rec.Allowed,
		"reason":        rec.Reason,
		"input":         rec.InputRaw,
		"created_at":    rec.CreatedAt,
	})
}

type playgroundReply struct {
	OK        bool                            `json:"ok"`
	Error     string                          `json:"error,omitempty"`
	Statement *models.PermissionStatement     `json:"statement,omitempty"`
	Document  *models.GeneratedPolicyDocument `json:"document,omitempty"`
	Rego      string                          `json:"rego,omitempty"`
}

// playground is an interactive statement console: each JSON frame holds
// a statement and integration, each reply the full parse result.
func (s *Server) playground(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "closed")

	for {
		var req statementRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		reply := playgroundReply{}
		st, err := s.Builder.ParseStatement(ctx, req.Statement, req.Integration)
		if err != nil {
			s.Metrics.IncParseOutcome("rejected")
			reply.Error = err.Error()
		} else {
			s.Metrics.IncParseOutcome("accepted")
			reply.OK = true
			reply.Statement = st
			reply.Document = policygen.Translate(st)
			if policy, genErr := s.Generator.Generate(st, req.Template); genErr == nil {
				reply.Rego = policy.Content
			}
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(writeCtx, conn, reply)
		cancelWrite()
		if err != nil {
			return
		}
	}
}

func decodeStatementRequest(w http.ResponseWriter, r *http.Request) (statementRequest, bool) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return statementRequest{}, false
	}
	var req statementRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return statementRequest{}, false
	}
	if strings.TrimSpace(req.Statement) == "" || strings.TrimSpace(req.Integration) == "" {
		httpx.Error(w, 400, "statement and integration required")
		return statementRequest{}, false
	}
	return req, true
}

// statementError maps pipeline failures onto HTTP statuses: lexical and
// grammatical errors are 400, unknown integrations 404, schema binding
// and coercion failures 422.
func (s *Server) statementError(w http.ResponseWriter, err error) {
	var (
		tokErr      *grammar.TokenizationError
		parseErr    *grammar.GrammarError
		unkInteg    *schema.UnknownIntegrationError
		unkType     *schema.UnknownResourceTypeError
		unkField    *schema.UnknownFieldError
		coerceErr   *coerce.Error
		unkDataType *coerce.UnknownDataTypeError
	)
	switch {
	case errors.As(err, &tokErr), errors.As(err, &parseErr):
		httpx.Error(w, 400, err.Error())
	case errors.As(err, &unkInteg):
		httpx.Error(w, 404, err.Error())
	case errors.As(err, &unkType), errors.As(err, &unkField):
		httpx.Error(w, 422, err.Error())
	case errors.As(err, &coerceErr):
		s.Metrics.IncCoercionFailure(string(coerceErr.DataType))
		httpx.Error(w, 422, err.Error())
	case errors.As(err, &unkDataType):
		httpx.Error(w, 422, err.Error())
	default:
		internalServerError(w, "parse statement", err)
	}
}

// checkRateLimit buckets by scope plus authenticated subject, so one
// caller cannot starve the others.
func (s *Server) checkRateLimit(r *http.Request, scope string) (bool, int) {
	if !s.RateLimitEnabled || s.RateLimiter == nil {
		return false, 0
	}
	limit := s.RateLimitPerMinute
	if limit <= 0 {
		return false, 0
	}
	subject := "anonymous"
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.Subject != "" {
		subject = principal.Subject
	}
	decision := s.RateLimiter.Allow(scope+":"+subject, limit)
	if decision.Allowed {
		return false, 0
	}
	retryAfter := int(time.Until(decision.ResetAt).Seconds())
	if retryAfter < 0 {
		retryAfter = 0
	}
	return true, retryAfter
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

func internalServerError(w http.ResponseWriter, op string, err error) {
	if err != nil {
		log.Printf("gateway %s: %v", op, err)
	}
	httpx.Error(w, 500, "internal error")
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isProductionLikeEnv(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func isExplicitNonProductionEnv(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "dev", "development", "local", "test", "testing":
		return true
	default:
		return false
	}
}

func isTestBinaryProcess() bool {
	return strings.HasSuffix(strings.TrimSpace(os.Args[0]), ".test")
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
