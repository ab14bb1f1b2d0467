// Package hardening validates deployment configuration before the gateway
// starts serving. In production-like environments it refuses insecure
// transport to the database, Redis, and the decision service, and rejects
// permissive CORS configuration.
package hardening

import (
	"fmt"
	"strings"
)

// EnvRequirement names an environment variable that must be non-empty in
// strict production mode.
type EnvRequirement struct {
	Name  string
	Value string
}

// Options carries the raw environment values under validation. Boolean
// fields hold the unparsed string so empty means "use the default".
type Options struct {
	Service            string
	Environment        string
	StrictProdSecurity string

	DatabaseRequireTLS string

	RedisAddr             string
	RedisRequireTLS       string
	RedisTLSInsecure      string
	RedisAllowInsecureTLS string

	DecisionServiceURL        string
	DecisionServiceAllowPlain string

	CORSAllowedOrigins     string
	RequiredServiceSecrets []EnvRequirement
}

// ValidateProduction applies the strict checks when Environment is
// production-like and STRICT_PROD_SECURITY is not explicitly disabled.
// Development and test environments always pass.
func ValidateProduction(o Options) error {
	if !productionLike(o.Environment) || !flagOn(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}

	checks := []func() error{
		func() error { return checkDatabase(o, service) },
		func() error { return checkRedis(o, service) },
		func() error { return checkDecisionService(o, service) },
		func() error { return checkCORS(o.CORSAllowedOrigins, service) },
		func() error { return checkSecrets(o.RequiredServiceSecrets, service) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func checkDatabase(o Options, service string) error {
	if !flagOn(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires DATABASE_REQUIRE_TLS=true", service)
	}
	return nil
}

func checkRedis(o Options, service string) error {
	if strings.TrimSpace(o.RedisAddr) == "" {
		return nil
	}
	if !flagOn(o.RedisRequireTLS, false) {
		return fmt.Errorf("%s: strict production hardening requires REDIS_REQUIRE_TLS=true", service)
	}
	if flagOn(o.RedisTLSInsecure, false) || flagOn(o.RedisAllowInsecureTLS, false) {
		return fmt.Errorf("%s: strict production hardening forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
	}
	return nil
}

func checkDecisionService(o Options, service string) error {
	url := strings.ToLower(strings.TrimSpace(o.DecisionServiceURL))
	if url == "" || flagOn(o.DecisionServiceAllowPlain, false) {
		return nil
	}
	if !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%s: strict production hardening requires an https decision service URL, got %q", service, o.DecisionServiceURL)
	}
	return nil
}

func checkCORS(raw, service string) error {
	explicit := 0
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		explicit++
		lower := strings.ToLower(origin)
		switch {
		case lower == "*":
			return fmt.Errorf("%s: strict production hardening forbids CORS wildcard origin", service)
		case isLoopbackOrigin(lower):
			return fmt.Errorf("%s: strict production hardening forbids localhost CORS origin %q", service, origin)
		case !strings.HasPrefix(lower, "https://"):
			return fmt.Errorf("%s: strict production hardening requires HTTPS CORS origin, got %q", service, origin)
		}
	}
	if explicit == 0 {
		return fmt.Errorf("%s: strict production hardening requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	return nil
}

func checkSecrets(secrets []EnvRequirement, service string) error {
	for _, req := range secrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: strict production hardening requires %s", service, req.Name)
		}
	}
	return nil
}

func isLoopbackOrigin(lower string) bool {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		if strings.HasPrefix(lower, "http://"+host) || strings.HasPrefix(lower, "https://"+host) {
			return true
		}
	}
	return false
}

func flagOn(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func productionLike(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	}
	return false
}
