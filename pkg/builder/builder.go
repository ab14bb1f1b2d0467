// Package builder resolves parsed statements against integration schemas
// and produces fully typed permission statements.
package builder

import (
	"context"
	"fmt"

	"github.com/prompted365/golf/pkg/coerce"
	"github.com/prompted365/golf/pkg/grammar"
	"github.com/prompted365/golf/pkg/models"
	"github.com/prompted365/golf/pkg/schema"
)

// Builder turns unresolved statements into permission statements. The
// schema fetch is the only blocking step; everything after it is a pure
// in-memory walk.
type Builder struct {
	resolver schema.Resolver
	engine   *coerce.Engine
}

func New(resolver schema.Resolver) *Builder {
	return &Builder{resolver: resolver, engine: coerce.NewEngine()}
}

// ParseStatement runs the whole pipeline: lex, parse, resolve, coerce.
func (b *Builder) ParseStatement(ctx context.Context, raw, integration string) (*models.PermissionStatement, error) {
	s, err := b.resolver.ResolveSchema(ctx, integration)
	if err != nil {
		return nil, err
	}
	tok := grammar.NewTokenizer(vocabularyFor(s))
	tokens, err := tok.Tokenize(raw)
	if err != nil {
		return nil, err
	}
	unresolved, err := grammar.Parse(tokens)
	if err != nil {
		return nil, err
	}
	return b.build(unresolved, s)
}

// Build resolves an already-parsed statement for one integration.
func (b *Builder) Build(ctx context.Context, st *grammar.UnresolvedStatement, integration string) (*models.PermissionStatement, error) {
	s, err := b.resolver.ResolveSchema(ctx, integration)
	if err != nil {
		return nil, err
	}
	return b.build(st, s)
}

func (b *Builder) build(st *grammar.UnresolvedStatement, s *models.IntegrationSchema) (*models.PermissionStatement, error) {
	if _, ok := s.Resources[st.ResourceType]; !ok {
		return nil, &schema.UnknownResourceTypeError{Integration: s.Integration, ResourceType: st.ResourceType}
	}
	out := &models.PermissionStatement{
		Effect:       st.Effect,
		Permissions:  append([]models.Permission(nil), st.Permissions...),
		ResourceType: st.ResourceType,
		Integration:  s.Integration,
	}
	if st.Conditions != nil {
		cond, err := b.resolveNode(st.Conditions, st.ResourceType, s)
		if err != nil {
			return nil, err
		}
		out.Conditions = cond
	}
	return out, nil
}

// resolveNode walks the raw tree left to right so the caller sees the
// first unresolved construct in statement order.
func (b *Builder) resolveNode(c *grammar.UnresolvedCondition, resourceType string, s *models.IntegrationSchema) (*models.ConditionNode, error) {
	if !c.Leaf() {
		node := &models.ConditionNode{Op: c.Op, Children: make([]*models.ConditionNode, 0, len(c.Children))}
		for _, child := range c.Children {
			resolved, err := b.resolveNode(child, resourceType, s)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, resolved)
		}
		return node, nil
	}

	def, err := schema.ResolveFieldIn(s, resourceType, c.Helper)
	if err != nil {
		return nil, err
	}
	pipeline, err := schema.PipelineFor(s, def.DataType)
	if err != nil {
		return nil, err
	}
	value, err := b.engine.Coerce(c.RawValue, def.DataType, pipeline)
	if err != nil {
		return nil, fmt.Errorf("condition on %q at position %d: %w", c.Helper, c.Pos, err)
	}
	return &models.ConditionNode{
		Field:    def.PermissionField,
		Operator: c.Operator,
		Value:    value,
		DataType: def.DataType,
	}, nil
}

// vocabularyFor derives the lexical surface from one schema: its resource
// types plus the shared helpers and any integration-specific aliases.
func vocabularyFor(s *models.IntegrationSchema) grammar.Vocabulary {
	vocab := grammar.Vocabulary{Helpers: grammar.DefaultHelpers()}
	for rt := range s.Resources {
		vocab.ResourceTypes = append(vocab.ResourceTypes, rt)
	}
	for helper := range s.HelperMappings {
		vocab.Helpers = append(vocab.Helpers, helper)
	}
	return vocab
}
