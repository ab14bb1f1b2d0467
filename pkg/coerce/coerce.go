package coerce

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prompted365/golf/pkg/models"
)

// Error reports a value that could not be converted for its data type.
type Error struct {
	DataType models.DataType
	Raw      string
	Op       string
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("coerce %s value %q: %s: %s", e.DataType, e.Raw, e.Op, e.Msg)
}

// UnknownDataTypeError reports a data type with no pipeline, default or
// otherwise.
type UnknownDataTypeError struct {
	DataType models.DataType
}

func (e *UnknownDataTypeError) Error() string {
	return fmt.Sprintf("unknown data type %q", e.DataType)
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Engine executes declarative coercion pipelines. It is stateless and
// safe for concurrent use.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Coerce runs the pipeline over raw in declared order and returns the
// typed value. Operations that assert a definite result (map_values,
// split, parse_*, validate_format, default) must leave one behind; a
// pipeline of pure transforms returns the transformed string.
func (e *Engine) Coerce(raw string, dt models.DataType, pipeline models.CoercionPipeline) (any, error) {
	var value any = raw
	definite := false
	asserting := ""
	for _, op := range pipeline {
		switch op.Name {
		case models.OpLowercase:
			if s, ok := value.(string); ok {
				value = strings.ToLower(s)
			}
		case models.OpTrim:
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
		case models.OpMapValues:
			asserting = op.Name
			if definite {
				continue
			}
			s, ok := value.(string)
			if !ok {
				continue
			}
			if mapped, ok := mapValue(s, op.Mapping); ok {
				value = mapped
				definite = true
			}
		case models.OpSplit:
			asserting = op.Name
			s, ok := value.(string)
			if !ok {
				continue
			}
			value = splitValue(s, op)
			definite = true
		case models.OpValidateFormat:
			asserting = op.Name
			s, ok := value.(string)
			if !ok {
				return nil, &Error{DataType: dt, Raw: raw, Op: op.Name, Msg: "not a string"}
			}
			if err := validateFormat(s, op.Format); err != nil {
				return nil, &Error{DataType: dt, Raw: raw, Op: op.Name, Msg: err.Error()}
			}
			definite = true
		case models.OpParseNumber:
			asserting = op.Name
			s, ok := value.(string)
			if !ok {
				continue
			}
			parsed, err := parseNumber(s)
			if err != nil {
				return nil, &Error{DataType: dt, Raw: raw, Op: op.Name, Msg: err.Error()}
			}
			value = parsed
			definite = true
		case models.OpParseDatetime:
			asserting = op.Name
			s, ok := value.(string)
			if !ok {
				continue
			}
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, &Error{DataType: dt, Raw: raw, Op: op.Name, Msg: "not an RFC 3339 timestamp"}
			}
			value = ts
			definite = true
		case models.OpDefault:
			asserting = op.Name
			if !definite {
				value = op.Default
				definite = true
			}
		default:
			return nil, &Error{DataType: dt, Raw: raw, Op: op.Name, Msg: "unknown operation"}
		}
	}
	if asserting != "" && !definite {
		return nil, &Error{DataType: dt, Raw: raw, Op: asserting, Msg: "no definite value produced"}
	}
	return value, nil
}

func mapValue(s string, mapping map[string][]string) (any, bool) {
	needle := strings.ToLower(s)
	for target, aliases := range mapping {
		for _, alias := range aliases {
			if needle == strings.ToLower(alias) {
				switch target {
				case "true":
					return true, true
				case "false":
					return false, true
				}
				return target, true
			}
		}
	}
	return nil, false
}

func splitValue(s string, op models.Operation) []string {
	sep := op.Separator
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if op.TrimSpace {
			p = strings.TrimSpace(p)
		}
		if op.DropEmpty && p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func validateFormat(s, format string) error {
	switch format {
	case "email":
		if !emailPattern.MatchString(s) {
			return fmt.Errorf("not a valid email address")
		}
	case "rfc3339":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("not an RFC 3339 timestamp")
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

func parseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number")
	}
	return f, nil
}
