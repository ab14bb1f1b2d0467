package models

// Effect is the decision polarity of a statement.
type Effect string

const (
	EffectGive Effect = "GIVE"
	EffectDeny Effect = "DENY"
)

// Permission is an access level granted or denied by a statement.
type Permission string

const (
	PermissionRead   Permission = "READ"
	PermissionWrite  Permission = "WRITE"
	PermissionDelete Permission = "DELETE"
)

// DataType enumerates the canonical value types the coercion engine knows.
type DataType string

const (
	TypeString       DataType = "string"
	TypeNumber       DataType = "number"
	TypeBoolean      DataType = "boolean"
	TypeTags         DataType = "tags"
	TypeEmailAddress DataType = "email_address"
	TypeUser         DataType = "user"
	TypeDatetime     DataType = "datetime"
)

// CanonicalDataTypes lists every type with an engine-wide default pipeline.
func CanonicalDataTypes() []DataType {
	return []DataType{
		TypeString, TypeNumber, TypeBoolean, TypeTags,
		TypeEmailAddress, TypeUser, TypeDatetime,
	}
}

// ConditionOperator compares a resource field against a literal.
type ConditionOperator string

const (
	OpIs             ConditionOperator = "IS"
	OpIsNot          ConditionOperator = "IS_NOT"
	OpContains       ConditionOperator = "CONTAINS"
	OpGreaterThan    ConditionOperator = "GREATER_THAN"
	OpLessThan       ConditionOperator = "LESS_THAN"
	OpGreaterOrEqual ConditionOperator = "GREATER_OR_EQUAL"
	OpLessOrEqual    ConditionOperator = "LESS_OR_EQUAL"
	OpBefore         ConditionOperator = "BEFORE"
	OpAfter          ConditionOperator = "AFTER"
)

// LogicalOperator combines condition nodes.
type LogicalOperator string

const (
	LogicAnd LogicalOperator = "AND"
	LogicOr  LogicalOperator = "OR"
	LogicNot LogicalOperator = "NOT"
)

// ConditionNode is one node of a statement's condition tree. A node is
// either a leaf comparison (Op empty, Field set) or a combinator
// (Op set, Children populated). Nodes are built once and never mutated.
type ConditionNode struct {
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`
	DataType DataType          `json:"data_type,omitempty"`

	Op       LogicalOperator  `json:"op,omitempty"`
	Children []*ConditionNode `json:"children,omitempty"`
}

// Leaf reports whether the node is a field comparison.
func (n *ConditionNode) Leaf() bool { return n != nil && n.Op == "" }

// PermissionStatement is the fully resolved, typed result of parsing one
// statement. Every leaf field and data type has been checked against the
// integration schema. Instances are immutable; derive new statements
// instead of mutating.
type PermissionStatement struct {
	Effect       Effect         `json:"effect"`
	Permissions  []Permission   `json:"permissions"`
	ResourceType string         `json:"resource_type"`
	Integration  string         `json:"integration"`
	Conditions   *ConditionNode `json:"conditions,omitempty"`
}

// FieldDef declares how one external field maps into decision documents.
type FieldDef struct {
	PermissionField string   `json:"permission_field"`
	DataType        DataType `json:"data_type"`
	Description     string   `json:"description,omitempty"`
}

// ResourceSchema maps external field names to their definitions.
type ResourceSchema map[string]FieldDef

// IntegrationSchema declares one integration's resource types, fields,
// helper aliases, and coercion pipeline overrides. Registered once at
// startup; the parsing pipeline treats it as read-only.
type IntegrationSchema struct {
	Integration    string                        `json:"integration"`
	Resources      map[string]ResourceSchema     `json:"resources"`
	HelperMappings map[string]string             `json:"helper_mappings,omitempty"`
	Pipelines      map[DataType]CoercionPipeline `json:"pipelines,omitempty"`
}

// CoercionPipeline is an ordered sequence of operations turning raw
// statement text into a canonical typed value. Pipelines are pure: no
// operation may consult external state.
type CoercionPipeline []Operation

// Operation is one declarative pipeline step, tagged by Name. Only the
// parameters relevant to the named step are set.
type Operation struct {
	Name string `json:"name"`

	// split
	Separator string `json:"separator,omitempty"`
	TrimSpace bool   `json:"trim_space,omitempty"`
	DropEmpty bool   `json:"drop_empty,omitempty"`

	// map_values: canonical result -> accepted aliases
	Mapping map[string][]string `json:"mapping,omitempty"`

	// validate_format: "email" | "rfc3339"
	Format string `json:"format,omitempty"`

	// default: applied only when no earlier step produced a definite value
	Default any `json:"default,omitempty"`
}

// Operation names understood by the coercion engine.
const (
	OpLowercase      = "lowercase"
	OpTrim           = "trim"
	OpMapValues      = "map_values"
	OpSplit          = "split"
	OpValidateFormat = "validate_format"
	OpParseNumber    = "parse_number"
	OpParseDatetime  = "parse_datetime"
	OpDefault        = "default"
)

// RegoPolicy is a rendered rule-engine policy fragment ready for upload
// to the decision service.
type RegoPolicy struct {
	ID      string `json:"id"`
	Package string `json:"package"`
	Content string `json:"content"`
}

// AccessRequest carries structured request facts for a decision check.
type AccessRequest struct {
	Action   Permission     `json:"action"`
	Resource ResourceFacts  `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

// ResourceFacts describes the resource an access request targets.
type ResourceFacts struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// AccessResult is the decision service's verdict.
type AccessResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
