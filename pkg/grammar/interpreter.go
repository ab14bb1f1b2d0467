package grammar

import (
	"fmt"
	"strings"

	"github.com/prompted365/golf/pkg/models"
)

// GrammarError reports a token stream that does not match the statement
// grammar.
type GrammarError struct {
	Pos      int
	Expected string
	Found    string
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("expected %s at position %d, found %s", e.Expected, e.Pos, e.Found)
}

// UnresolvedCondition is one node of the raw condition tree. Helper and
// RawValue carry statement text untouched; field and type resolution
// happens in the statement builder.
type UnresolvedCondition struct {
	Helper   string
	Operator models.ConditionOperator
	RawValue string
	Pos      int

	Op       models.LogicalOperator
	Children []*UnresolvedCondition
}

// Leaf reports whether the node is a field comparison.
func (c *UnresolvedCondition) Leaf() bool { return c != nil && c.Op == "" }

// UnresolvedStatement is the parsed but schema-unbound form of one
// statement.
type UnresolvedStatement struct {
	Effect       models.Effect
	Permissions  []models.Permission
	ResourceType string
	Conditions   *UnresolvedCondition
}

// Parse consumes a token stream and builds an unresolved statement.
//
//	statement     := EFFECT permissionList ACCESS_TO RESOURCE_TYPE conditionClause?
//	permissionList := PERMISSION ('&' PERMISSION)*
//	conditionClause := conditionTerm (LOGICAL conditionTerm)*
//	conditionTerm := NOT? HELPER [field] [OPERATOR] VALUE
//
// AND and OR combine left-associatively with equal precedence. NOT binds
// to the single following term. Any deviation fails with the offending
// token's position; there is no best-effort parse.
func Parse(tokens []Token) (*UnresolvedStatement, error) {
	p := &parser{tokens: tokens}

	effect, err := p.expect(KindCommand, "GIVE or DENY")
	if err != nil {
		return nil, err
	}
	st := &UnresolvedStatement{Effect: models.Effect(effect.Canonical)}

	perm, err := p.expect(KindPermission, "permission")
	if err != nil {
		return nil, err
	}
	st.Permissions = append(st.Permissions, models.Permission(perm.Canonical))
	for p.peekSymbol("&") {
		p.next()
		perm, err = p.expect(KindPermission, "permission after '&'")
		if err != nil {
			return nil, err
		}
		st.Permissions = append(st.Permissions, models.Permission(perm.Canonical))
	}

	if _, err := p.expect(KindAccessPhrase, "ACCESS TO"); err != nil {
		return nil, err
	}
	rt, err := p.expectResourceType()
	if err != nil {
		return nil, err
	}
	st.ResourceType = rt

	if !p.done() {
		cond, err := p.parseConditions()
		if err != nil {
			return nil, err
		}
		st.Conditions = cond
	}
	if !p.done() {
		tok := p.next()
		return nil, &GrammarError{Pos: tok.Pos, Expected: "end of statement", Found: tok.String()}
	}
	return st, nil
}

type parser struct {
	tokens []Token
	i      int
}

func (p *parser) done() bool { return p.i >= len(p.tokens) }

func (p *parser) next() Token {
	tok := p.tokens[p.i]
	p.i++
	return tok
}

func (p *parser) peek() (Token, bool) {
	if p.done() {
		return Token{}, false
	}
	return p.tokens[p.i], true
}

func (p *parser) peekSymbol(sym string) bool {
	tok, ok := p.peek()
	return ok && tok.Kind == KindSymbol && tok.Canonical == sym
}

func (p *parser) expect(kind Kind, expected string) (Token, error) {
	tok, ok := p.peek()
	if !ok {
		return Token{}, &GrammarError{Pos: p.endPos(), Expected: expected, Found: "end of statement"}
	}
	if tok.Kind != kind {
		return Token{}, &GrammarError{Pos: tok.Pos, Expected: expected, Found: tok.String()}
	}
	return p.next(), nil
}

// expectResourceType also admits a bare literal, uppercased. Whether the
// name exists in the schema is a semantic question for the builder, which
// reports it as an unknown resource type rather than a syntax failure.
func (p *parser) expectResourceType() (string, error) {
	tok, ok := p.peek()
	if !ok {
		return "", &GrammarError{Pos: p.endPos(), Expected: "resource type", Found: "end of statement"}
	}
	switch tok.Kind {
	case KindResourceType:
		p.next()
		return tok.Canonical, nil
	case KindLiteral:
		p.next()
		return strings.ToUpper(tok.Raw), nil
	default:
		return "", &GrammarError{Pos: tok.Pos, Expected: "resource type", Found: tok.String()}
	}
}

func (p *parser) endPos() int {
	if len(p.tokens) == 0 {
		return 0
	}
	last := p.tokens[len(p.tokens)-1]
	return last.Pos + len(last.Raw)
}

// parseConditions builds the left-associative combinator tree.
func (p *parser) parseConditions() (*UnresolvedCondition, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != KindLogicalOp || tok.Canonical == "NOT" {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &UnresolvedCondition{
			Op:       models.LogicalOperator(tok.Canonical),
			Children: []*UnresolvedCondition{left, right},
			Pos:      left.Pos,
		}
	}
}

func (p *parser) parseTerm() (*UnresolvedCondition, error) {
	negated := false
	if tok, ok := p.peek(); ok && tok.Kind == KindLogicalOp && tok.Canonical == "NOT" {
		p.next()
		negated = true
	}

	helper, err := p.expect(KindHelper, "condition helper")
	if err != nil {
		return nil, err
	}
	term := &UnresolvedCondition{Helper: helper.Canonical, Operator: models.OpIs, Pos: helper.Pos}

	// WITH names an arbitrary field; the field token follows the helper.
	if helper.Canonical == "WITH" {
		field, err := p.expect(KindLiteral, "field name after WITH")
		if err != nil {
			return nil, err
		}
		term.Helper = field.Raw
	}

	if tok, ok := p.peek(); ok && tok.Kind == KindConditionOp {
		p.next()
		term.Operator = models.ConditionOperator(tok.Canonical)
	}

	value, ok := p.peek()
	if !ok {
		return nil, &GrammarError{Pos: p.endPos(), Expected: "condition value", Found: "end of statement"}
	}
	switch value.Kind {
	case KindLiteral, KindResourceType, KindPermission, KindCommand:
		// Values that happen to collide with vocabulary keep their raw text.
		p.next()
		term.RawValue = value.Raw
	default:
		return nil, &GrammarError{Pos: value.Pos, Expected: "condition value", Found: value.String()}
	}

	if negated {
		return &UnresolvedCondition{
			Op:       models.LogicNot,
			Children: []*UnresolvedCondition{term},
			Pos:      term.Pos,
		}, nil
	}
	return term, nil
}
