package grammar

import "fmt"

// Kind classifies a lexed token.
type Kind int

const (
	KindCommand Kind = iota
	KindPermission
	KindAccessPhrase
	KindResourceType
	KindHelper
	KindConditionOp
	KindLogicalOp
	KindLiteral
	KindSymbol
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPermission:
		return "permission"
	case KindAccessPhrase:
		return "access phrase"
	case KindResourceType:
		return "resource type"
	case KindHelper:
		return "helper"
	case KindConditionOp:
		return "condition operator"
	case KindLogicalOp:
		return "logical operator"
	case KindLiteral:
		return "literal"
	case KindSymbol:
		return "symbol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token is one lexed unit of a statement. Canonical carries the
// normalized grammar form; Raw preserves the input spelling. Tokens are
// immutable once produced.
type Token struct {
	Kind      Kind
	Canonical string
	Raw       string
	Pos       int
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q@%d", t.Kind, t.Canonical, t.Pos)
}

// TokenizationError reports a lexically malformed statement. The only
// structural failure is an unterminated quoted value; stray punctuation
// is skipped, never fatal.
type TokenizationError struct {
	Pos     int
	Excerpt string
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("unterminated quoted value at position %d near %q", e.Pos, e.Excerpt)
}
