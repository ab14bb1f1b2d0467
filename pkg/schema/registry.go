package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/prompted365/golf/pkg/coerce"
	"github.com/prompted365/golf/pkg/models"
)

// UnknownIntegrationError reports a lookup against an integration that
// was never registered.
type UnknownIntegrationError struct {
	Integration string
}

func (e *UnknownIntegrationError) Error() string {
	return fmt.Sprintf("unknown integration %q", e.Integration)
}

// UnknownResourceTypeError reports a resource type absent from an
// integration's schema.
type UnknownResourceTypeError struct {
	Integration  string
	ResourceType string
}

func (e *UnknownResourceTypeError) Error() string {
	return fmt.Sprintf("integration %q has no resource type %q", e.Integration, e.ResourceType)
}

// UnknownFieldError reports a helper or field name that resolves to
// nothing in the target resource schema.
type UnknownFieldError struct {
	Integration  string
	ResourceType string
	Name         string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("resource type %q of integration %q has no field or helper %q", e.ResourceType, e.Integration, e.Name)
}

// Registry holds every registered integration schema. Lookups read an
// immutable snapshot; registration publishes a fresh snapshot with an
// atomic pointer swap, so concurrent readers never observe a schema with
// some fields updated and others stale.
type Registry struct {
	snapshot atomic.Pointer[map[string]*models.IntegrationSchema]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*models.IntegrationSchema{}
	r.snapshot.Store(&empty)
	return r
}

// Register installs or replaces an integration's schema. The schema is
// validated up front: every field data type must be canonical or carry a
// pipeline override. Callers must not mutate the schema afterwards.
func (r *Registry) Register(s *models.IntegrationSchema) error {
	if s == nil || strings.TrimSpace(s.Integration) == "" {
		return fmt.Errorf("integration name required")
	}
	if len(s.Resources) == 0 {
		return fmt.Errorf("integration %q declares no resource types", s.Integration)
	}
	for rt, fields := range s.Resources {
		for name, def := range fields {
			if coerce.Canonical(def.DataType) {
				continue
			}
			if _, ok := s.Pipelines[def.DataType]; ok {
				continue
			}
			return fmt.Errorf("field %q of %s/%s: %w", name, s.Integration, rt,
				&coerce.UnknownDataTypeError{DataType: def.DataType})
		}
	}
	for {
		old := r.snapshot.Load()
		next := make(map[string]*models.IntegrationSchema, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[s.Integration] = s
		if r.snapshot.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// Deregister removes an integration's schema. Reports whether the
// integration was registered.
func (r *Registry) Deregister(name string) bool {
	for {
		old := r.snapshot.Load()
		if _, ok := (*old)[name]; !ok {
			return false
		}
		next := make(map[string]*models.IntegrationSchema, len(*old)-1)
		for k, v := range *old {
			if k != name {
				next[k] = v
			}
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// Integration returns the registered schema for name.
func (r *Registry) Integration(name string) (*models.IntegrationSchema, bool) {
	s, ok := (*r.snapshot.Load())[name]
	return s, ok
}

// Integrations lists registered integration names, sorted.
func (r *Registry) Integrations() []string {
	snap := *r.snapshot.Load()
	out := make([]string, 0, len(snap))
	for name := range snap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResourceTypes lists the resource type names an integration declares,
// sorted. Unknown integrations yield nil.
func (r *Registry) ResourceTypes(integration string) []string {
	s, ok := r.Integration(integration)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.Resources))
	for rt := range s.Resources {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}

// ResolveField maps a structural helper or raw field name to its
// permission field and data type within one resource type.
func (r *Registry) ResolveField(integration, resourceType, name string) (models.FieldDef, error) {
	s, ok := r.Integration(integration)
	if !ok {
		return models.FieldDef{}, &UnknownIntegrationError{Integration: integration}
	}
	return ResolveFieldIn(s, resourceType, name)
}

// ResolveFieldIn is ResolveField against an already-fetched schema; the
// statement builder uses it after a remote schema fetch.
func ResolveFieldIn(s *models.IntegrationSchema, resourceType, name string) (models.FieldDef, error) {
	fields, ok := s.Resources[resourceType]
	if !ok {
		return models.FieldDef{}, &UnknownResourceTypeError{Integration: s.Integration, ResourceType: resourceType}
	}
	target := strings.ToLower(name)
	if mapped, ok := s.HelperMappings[strings.ToUpper(name)]; ok {
		target = mapped
	}
	if def, ok := fields[target]; ok {
		return def, nil
	}
	// Fall back to matching the decision-document field name; helper
	// aliases point at permission fields, not external API names.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fields[k].PermissionField == target {
			return fields[k], nil
		}
	}
	return models.FieldDef{}, &UnknownFieldError{Integration: s.Integration, ResourceType: resourceType, Name: name}
}

// ResolvePipeline returns the integration's override for dt when present,
// otherwise the engine-wide default.
func (r *Registry) ResolvePipeline(integration string, dt models.DataType) (models.CoercionPipeline, error) {
	s, ok := r.Integration(integration)
	if !ok {
		return nil, &UnknownIntegrationError{Integration: integration}
	}
	return PipelineFor(s, dt)
}

// PipelineFor implements the override-else-default-else-error chain.
func PipelineFor(s *models.IntegrationSchema, dt models.DataType) (models.CoercionPipeline, error) {
	if pl, ok := s.Pipelines[dt]; ok {
		return pl, nil
	}
	return coerce.DefaultPipeline(dt)
}
