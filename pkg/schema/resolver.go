package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prompted365/golf/pkg/httpx"
	"github.com/prompted365/golf/pkg/models"
)

// Resolver yields the schema for an integration. The registry is the
// usual implementation; HTTPResolver fetches from a remote catalog.
type Resolver interface {
	ResolveSchema(ctx context.Context, integration string) (*models.IntegrationSchema, error)
}

// ResolveSchema implements Resolver on the registry.
func (r *Registry) ResolveSchema(_ context.Context, integration string) (*models.IntegrationSchema, error) {
	s, ok := r.Integration(integration)
	if !ok {
		return nil, &UnknownIntegrationError{Integration: integration}
	}
	return s, nil
}

// HTTPResolver fetches integration schemas from a remote catalog service.
type HTTPResolver struct {
	BaseURL    string
	Client     *http.Client
	Retries    int
	RetryDelay time.Duration
}

func NewHTTPResolver(baseURL string, client *http.Client) *HTTPResolver {
	return &HTTPResolver{BaseURL: baseURL, Client: client, Retries: 2, RetryDelay: 200 * time.Millisecond}
}

func (h *HTTPResolver) ResolveSchema(ctx context.Context, integration string) (*models.IntegrationSchema, error) {
	u := fmt.Sprintf("%s/v1/integrations/%s", h.BaseURL, url.PathEscape(integration))
	status, body, err := httpx.RequestJSON(ctx, h.Client, http.MethodGet, u, nil, nil, h.Retries, h.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("fetch schema for %q: %w", integration, err)
	}
	if status == http.StatusNotFound {
		return nil, &UnknownIntegrationError{Integration: integration}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch schema for %q: status %d", integration, status)
	}
	var s models.IntegrationSchema
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode schema for %q: %w", integration, err)
	}
	if s.Integration == "" {
		s.Integration = integration
	}
	return &s, nil
}

// CachingResolver consults the registry first and falls back to a remote
// resolver, registering whatever it fetches so later lookups stay local.
type CachingResolver struct {
	Registry *Registry
	Remote   Resolver
}

func (c *CachingResolver) ResolveSchema(ctx context.Context, integration string) (*models.IntegrationSchema, error) {
	if s, ok := c.Registry.Integration(integration); ok {
		return s, nil
	}
	if c.Remote == nil {
		return nil, &UnknownIntegrationError{Integration: integration}
	}
	s, err := c.Remote.ResolveSchema(ctx, integration)
	if err != nil {
		return nil, err
	}
	if err := c.Registry.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}
