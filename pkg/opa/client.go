// Package opa is the client for the external decision service. It
// uploads generated policies and asks for allow/deny verdicts; all
// evaluation happens on the remote side.
package opa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prompted365/golf/pkg/httpx"
	"github.com/prompted365/golf/pkg/models"
	"github.com/prompted365/golf/pkg/telemetry"
)

// ProtocolError reports a decision response outside the agreed contract.
type ProtocolError struct {
	Path string
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("decision service %s: %s", e.Path, e.Msg)
}

// Client talks to one decision service instance. It keeps a local index
// of the policies it uploaded so removal can map an ID back to its
// package path. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	retryDelay time.Duration

	mu       sync.RWMutex
	policies map[string]*models.RegoPolicy
}

type Option func(*Client)

func WithRetries(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second}),
		retries:    2,
		retryDelay: 200 * time.Millisecond,
		policies:   make(map[string]*models.RegoPolicy),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decisionResponse struct {
	Result json.RawMessage `json:"result"`
}

// CheckAccess evaluates a request against the uploaded policies for its
// resource type. A missing result means no policy matched and reads as
// false; any non-boolean result is a protocol error.
func (c *Client) CheckAccess(ctx context.Context, req *models.AccessRequest, effect models.Effect) (*models.AccessResult, error) {
	rule := "allow"
	if effect == models.EffectDeny {
		rule = "deny"
	}
	path := fmt.Sprintf("/v1/data/golf/permissions/%s/%s", strings.ToLower(req.Resource.Type), rule)

	resource := map[string]any{"type": req.Resource.Type}
	for k, v := range req.Resource.Properties {
		resource[k] = v
	}
	body, err := json.Marshal(map[string]any{"input": map[string]any{
		"action":   req.Action,
		"resource": resource,
		"context":  req.Context,
	}})
	if err != nil {
		return nil, err
	}

	status, respBody, err := httpx.RequestJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+path, body, nil, c.retries, c.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("query decision service: %w", err)
	}
	if status != http.StatusOK {
		return nil, &ProtocolError{Path: path, Msg: fmt.Sprintf("status %d", status)}
	}
	var dr decisionResponse
	if err := json.Unmarshal(respBody, &dr); err != nil {
		return nil, &ProtocolError{Path: path, Msg: "response is not an object"}
	}

	decision := false
	if len(dr.Result) > 0 {
		if err := json.Unmarshal(dr.Result, &decision); err != nil {
			return nil, &ProtocolError{Path: path, Msg: "result is not a boolean"}
		}
	}

	// A deny rule firing means the request is rejected.
	allowed := decision
	if rule == "deny" {
		allowed = !decision
	}
	return &models.AccessResult{
		Allowed: allowed,
		Reason:  fmt.Sprintf("policy evaluation: %s=%t", rule, decision),
	}, nil
}

// AddPolicy uploads a policy and returns its ID, assigning one when the
// generator left it empty.
func (c *Client) AddPolicy(ctx context.Context, policy *models.RegoPolicy) (string, error) {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	path := "/v1/policies/" + packagePath(policy.Package)
	status, _, err := httpx.RequestJSON(ctx, c.httpClient, http.MethodPut, c.baseURL+path,
		[]byte(policy.Content), map[string]string{"Content-Type": "text/plain"}, c.retries, c.retryDelay)
	if err != nil {
		return "", fmt.Errorf("upload policy: %w", err)
	}
	if status != http.StatusOK {
		return "", &ProtocolError{Path: path, Msg: fmt.Sprintf("status %d", status)}
	}
	c.mu.Lock()
	c.policies[policy.ID] = policy
	c.mu.Unlock()
	return policy.ID, nil
}

// RemovePolicy deletes a previously uploaded policy. Unknown IDs report
// false without touching the remote side; callers holding a persisted
// package path fall back to RemovePolicyPackage.
func (c *Client) RemovePolicy(ctx context.Context, policyID string) (bool, error) {
	c.mu.RLock()
	policy, ok := c.policies[policyID]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if _, err := c.RemovePolicyPackage(ctx, policy.Package); err != nil {
		return false, err
	}
	c.mu.Lock()
	delete(c.policies, policyID)
	c.mu.Unlock()
	return true, nil
}

// RemovePolicyPackage deletes a policy by its package path without
// consulting the local index. Covers policies uploaded by an earlier
// process whose IDs this client never saw. A policy already absent on
// the remote side reports false.
func (c *Client) RemovePolicyPackage(ctx context.Context, pkg string) (bool, error) {
	path := "/v1/policies/" + packagePath(pkg)
	status, _, err := httpx.RequestJSON(ctx, c.httpClient, http.MethodDelete, c.baseURL+path, nil, nil, c.retries, c.retryDelay)
	if err != nil {
		return false, fmt.Errorf("delete policy: %w", err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &ProtocolError{Path: path, Msg: fmt.Sprintf("status %d", status)}
	}
	c.mu.Lock()
	for id, p := range c.policies {
		if p.Package == pkg {
			delete(c.policies, id)
		}
	}
	c.mu.Unlock()
	return true, nil
}

// Policy returns a locally indexed policy by ID.
func (c *Client) Policy(policyID string) (*models.RegoPolicy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.policies[policyID]
	return p, ok
}

// ListPolicies returns every policy this client uploaded, in no
// particular order.
func (c *Client) ListPolicies() []*models.RegoPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.RegoPolicy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p)
	}
	return out
}

// Health probes the decision service.
func (c *Client) Health(ctx context.Context) error {
	status, _, err := httpx.RequestJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/health", nil, nil, 0, 0)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("decision service unhealthy: status %d", status)
	}
	return nil
}

func packagePath(pkg string) string {
	parts := strings.Split(pkg, ".")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
