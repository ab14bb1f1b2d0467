package models

import "encoding/json"

// GeneratedPolicyDocument is the decision-input document handed to the
// external decision service. Produced by the translator from a built
// PermissionStatement; a given statement always yields the same document.
type GeneratedPolicyDocument struct {
	Input DecisionInput `json:"input"`
}

type DecisionInput struct {
	Action   ActionSet        `json:"action"`
	Resource DecisionResource `json:"resource"`
}

type DecisionResource struct {
	Type       string              `json:"type"`
	Conditions []DocumentCondition `json:"conditions"`
}

// DocumentCondition is one flattened condition entry. Logic names the
// combinator joining this entry to everything before it; the first entry
// carries none, and a missing marker means conjunction.
type DocumentCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
	Logic    LogicalOperator   `json:"logic,omitempty"`
	Negated  bool              `json:"negated,omitempty"`
}

// ActionSet is the ordered permission set of a statement. It marshals as
// a bare string when it holds exactly one permission, matching the wire
// shape single-action consumers expect, and as an array otherwise.
type ActionSet []Permission

func (a ActionSet) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(string(a[0]))
	}
	return json.Marshal([]Permission(a))
}

func (a *ActionSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = ActionSet{Permission(single)}
		return nil
	}
	var many []Permission
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = ActionSet(many)
	return nil
}
