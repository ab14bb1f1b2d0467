package policygen

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/prompted365/golf/pkg/models"
)

// PackagePrefix roots every generated policy package.
const PackagePrefix = "golf.permissions"

const defaultTemplate = `package {{.Package}}

default {{.Rule}} = false

{{.Rule}} {
    {{.Conditions}}
}
`

var builtinTemplate = template.Must(template.New("default").Parse(defaultTemplate))

// RegoGenerator renders rule-engine policy fragments from statements.
// Templates are registered by name; "default" always exists.
type RegoGenerator struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewRegoGenerator() *RegoGenerator {
	return &RegoGenerator{templates: map[string]*template.Template{
		"default": builtinTemplate,
	}}
}

// RegisterTemplate installs or replaces a named template. Templates see
// .Package, .Rule, and .Conditions.
func (g *RegoGenerator) RegisterTemplate(name, content string) error {
	tmpl, err := template.New(name).Parse(content)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}
	g.mu.Lock()
	g.templates[name] = tmpl
	g.mu.Unlock()
	return nil
}

// Generate renders a statement through the named template; an empty name
// selects the default.
func (g *RegoGenerator) Generate(st *models.PermissionStatement, templateName string) (*models.RegoPolicy, error) {
	if templateName == "" {
		templateName = "default"
	}
	g.mu.RLock()
	tmpl, ok := g.templates[templateName]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateName)
	}

	pkg := fmt.Sprintf("%s.%s", PackagePrefix, strings.ToLower(st.ResourceType))
	rule := "allow"
	if st.Effect == models.EffectDeny {
		rule = "deny"
	}

	exprs := []string{fmt.Sprintf("input.resource.type == %q", st.ResourceType)}
	actions := make([]string, len(st.Permissions))
	for i, p := range st.Permissions {
		actions[i] = fmt.Sprintf("input.action == %q", p)
	}
	if len(actions) == 1 {
		exprs = append(exprs, actions[0])
	} else {
		exprs = append(exprs, "("+strings.Join(actions, " || ")+")")
	}
	if st.Conditions != nil {
		conds, err := conditionExprs(flatten(st.Conditions, false, "", nil))
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, conds...)
	}

	var sb strings.Builder
	err := tmpl.Execute(&sb, struct {
		Package    string
		Rule       string
		Conditions string
	}{Package: pkg, Rule: rule, Conditions: strings.Join(exprs, "\n    ")})
	if err != nil {
		return nil, fmt.Errorf("render template %q: %w", templateName, err)
	}

	return &models.RegoPolicy{
		ID:      uuid.NewString(),
		Package: pkg,
		Content: sb.String(),
	}, nil
}

// conditionExprs renders flattened conditions, collapsing runs of
// OR-joined entries into one parenthesized disjunction.
func conditionExprs(conds []models.DocumentCondition) ([]string, error) {
	var out []string
	var group []string
	flush := func() {
		switch len(group) {
		case 0:
		case 1:
			out = append(out, group[0])
		default:
			out = append(out, "("+strings.Join(group, " || ")+")")
		}
		group = group[:0]
	}
	for _, c := range conds {
		expr, err := formatCondition(c)
		if err != nil {
			return nil, err
		}
		if c.Negated {
			expr = "not " + expr
		}
		if c.Logic == models.LogicOr {
			group = append(group, expr)
			continue
		}
		flush()
		group = append(group, expr)
	}
	flush()
	return out, nil
}

func formatCondition(c models.DocumentCondition) (string, error) {
	path := "input.resource." + c.Field

	if tags, ok := c.Value.([]string); ok {
		checks := make([]string, len(tags))
		for i, tag := range tags {
			checks[i] = fmt.Sprintf("%q in %s", tag, path)
		}
		switch c.Operator {
		case models.OpIs:
			return fmt.Sprintf("(%s && count(%s) == %d)", strings.Join(checks, " && "), path, len(tags)), nil
		case models.OpContains:
			return "(" + strings.Join(checks, " || ") + ")", nil
		default:
			return "", fmt.Errorf("operator %s not defined for tag lists", c.Operator)
		}
	}

	value, err := formatValue(c.Value)
	if err != nil {
		return "", fmt.Errorf("condition on %q: %w", c.Field, err)
	}
	switch c.Operator {
	case models.OpIs:
		return fmt.Sprintf("%s == %s", path, value), nil
	case models.OpIsNot:
		return fmt.Sprintf("%s != %s", path, value), nil
	case models.OpContains:
		return fmt.Sprintf("contains(%s, %s)", path, value), nil
	case models.OpGreaterThan:
		return fmt.Sprintf("%s > %s", path, value), nil
	case models.OpLessThan:
		return fmt.Sprintf("%s < %s", path, value), nil
	case models.OpGreaterOrEqual:
		return fmt.Sprintf("%s >= %s", path, value), nil
	case models.OpLessOrEqual:
		return fmt.Sprintf("%s <= %s", path, value), nil
	case models.OpBefore:
		return fmt.Sprintf("time.parse_rfc3339_ns(%s) < time.parse_rfc3339_ns(%s)", path, value), nil
	case models.OpAfter:
		return fmt.Sprintf("time.parse_rfc3339_ns(%s) > time.parse_rfc3339_ns(%s)", path, value), nil
	default:
		return "", fmt.Errorf("unknown operator %s", c.Operator)
	}
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val), nil
	case bool:
		return fmt.Sprintf("%t", val), nil
	case int64:
		return fmt.Sprintf("%d", val), nil
	case float64:
		return fmt.Sprintf("%g", val), nil
	case time.Time:
		return fmt.Sprintf("%q", val.Format(time.RFC3339)), nil
	default:
		return "", fmt.Errorf("value %#v has no rule representation", v)
	}
}
