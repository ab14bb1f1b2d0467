package grammar

import (
	"strings"
	"unicode"
)

// Vocabulary is the lexical surface the tokenizer matches against: the
// fixed grammar keywords plus the resource types and helper aliases the
// target integration declares.
type Vocabulary struct {
	ResourceTypes []string
	Helpers       []string
}

// DefaultHelpers lists the structural helpers every integration shares.
// Integrations extend the set through their helper mappings.
func DefaultHelpers() []string {
	return []string{"TAGGED", "NAMED", "ASSIGNED_TO", "FROM", "WITH"}
}

var keywordKinds = map[string]Kind{
	"GIVE":   KindCommand,
	"DENY":   KindCommand,
	"READ":   KindPermission,
	"WRITE":  KindPermission,
	"DELETE": KindPermission,

	"ACCESS_TO": KindAccessPhrase,

	"IS":               KindConditionOp,
	"IS_NOT":           KindConditionOp,
	"CONTAINS":         KindConditionOp,
	"GREATER_THAN":     KindConditionOp,
	"LESS_THAN":        KindConditionOp,
	"GREATER_OR_EQUAL": KindConditionOp,
	"LESS_OR_EQUAL":    KindConditionOp,
	"BEFORE":           KindConditionOp,
	"AFTER":            KindConditionOp,

	"AND": KindLogicalOp,
	"OR":  KindLogicalOp,
	"NOT": KindLogicalOp,
}

// multiWord folds adjacent words into one grammar unit. Longer sequences
// are tried first.
var multiWord = [][]string{
	{"GREATER", "OR", "EQUAL"},
	{"LESS", "OR", "EQUAL"},
	{"ACCESS", "TO"},
	{"ASSIGNED", "TO"},
	{"GREATER", "THAN"},
	{"LESS", "THAN"},
	{"IS", "NOT"},
}

var symbolOps = map[string]string{
	"=":  "IS",
	">":  "GREATER_THAN",
	"<":  "LESS_THAN",
	">=": "GREATER_OR_EQUAL",
	"<=": "LESS_OR_EQUAL",
}

// Tokenizer lexes statement text against one vocabulary. Safe for
// concurrent use once constructed.
type Tokenizer struct {
	resourceTypes map[string]bool
	helpers       map[string]bool
}

func NewTokenizer(vocab Vocabulary) *Tokenizer {
	t := &Tokenizer{
		resourceTypes: make(map[string]bool, len(vocab.ResourceTypes)),
		helpers:       make(map[string]bool, len(vocab.Helpers)),
	}
	for _, rt := range vocab.ResourceTypes {
		t.resourceTypes[strings.ToUpper(rt)] = true
	}
	helpers := vocab.Helpers
	if helpers == nil {
		helpers = DefaultHelpers()
	}
	for _, h := range helpers {
		t.helpers[strings.ToUpper(h)] = true
	}
	return t
}

type word struct {
	text string
	pos  int
}

// Tokenize lexes input into a canonical token stream. Keyword matching
// is case-insensitive; quoted literals keep their interior verbatim.
func (t *Tokenizer) Tokenize(input string) ([]Token, error) {
	runes := []rune(input)
	var tokens []Token
	var words []word
	flush := func() {
		tokens = append(tokens, t.fold(words)...)
		words = words[:0]
	}

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"':
			start := i
			i++
			var sb strings.Builder
			for i < len(runes) && runes[i] != '"' {
				sb.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, &TokenizationError{Pos: start, Excerpt: excerpt(input, start)}
			}
			i++
			flush()
			lit := sb.String()
			tokens = append(tokens, Token{Kind: KindLiteral, Canonical: lit, Raw: lit, Pos: start})
		case r == '&':
			flush()
			tokens = append(tokens, Token{Kind: KindSymbol, Canonical: "&", Raw: "&", Pos: i})
			i++
		case r == '=' || r == '<' || r == '>':
			start := i
			sym := string(r)
			if (r == '<' || r == '>') && i+1 < len(runes) && runes[i+1] == '=' {
				sym += "="
				i++
			}
			i++
			flush()
			tokens = append(tokens, Token{Kind: KindConditionOp, Canonical: symbolOps[sym], Raw: sym, Pos: start})
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			words = append(words, word{text: string(runes[start:i]), pos: start})
		default:
			// Stray punctuation outside quotes is not a lexical error.
			i++
		}
	}
	flush()
	return tokens, nil
}

// fold classifies buffered words, joining multi-word grammar units first.
func (t *Tokenizer) fold(words []word) []Token {
	var out []Token
	for i := 0; i < len(words); {
		matched := false
		for _, seq := range multiWord {
			if i+len(seq) > len(words) {
				continue
			}
			ok := true
			for j, part := range seq {
				if !strings.EqualFold(words[i+j].text, part) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			raws := make([]string, len(seq))
			for j := range seq {
				raws[j] = words[i+j].text
			}
			canonical := strings.Join(seq, "_")
			out = append(out, t.classify(canonical, strings.Join(raws, " "), words[i].pos))
			i += len(seq)
			matched = true
			break
		}
		if !matched {
			w := words[i]
			out = append(out, t.classify(strings.ToUpper(w.text), w.text, w.pos))
			i++
		}
	}
	return out
}

func (t *Tokenizer) classify(canonical, raw string, pos int) Token {
	if kind, ok := keywordKinds[canonical]; ok {
		return Token{Kind: kind, Canonical: canonical, Raw: raw, Pos: pos}
	}
	if t.resourceTypes[canonical] {
		return Token{Kind: KindResourceType, Canonical: canonical, Raw: raw, Pos: pos}
	}
	if t.helpers[canonical] {
		return Token{Kind: KindHelper, Canonical: canonical, Raw: raw, Pos: pos}
	}
	return Token{Kind: KindLiteral, Canonical: raw, Raw: raw, Pos: pos}
}

// Word runes cover identifiers plus the punctuation that appears inside
// unquoted values: email addresses and RFC 3339 timestamps.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		r == '_' || r == '-' || r == '@' || r == '.' || r == ':' || r == '+'
}

func excerpt(input string, pos int) string {
	runes := []rune(input)
	end := pos + 16
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[pos:end])
}
