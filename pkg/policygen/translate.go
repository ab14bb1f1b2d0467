// Package policygen turns permission statements into decision-input
// documents and rule-engine policy fragments.
package policygen

import "github.com/prompted365/golf/pkg/models"

// Translate maps a built statement to its decision-input document. It is
// a pure structural transform: no coercion, no schema lookups, and equal
// statements always yield equal documents.
func Translate(st *models.PermissionStatement) *models.GeneratedPolicyDocument {
	doc := &models.GeneratedPolicyDocument{
		Input: models.DecisionInput{
			Action: models.ActionSet(append([]models.Permission(nil), st.Permissions...)),
			Resource: models.DecisionResource{
				Type:       st.ResourceType,
				Conditions: []models.DocumentCondition{},
			},
		},
	}
	if st.Conditions != nil {
		doc.Input.Resource.Conditions = flatten(st.Conditions, false, "", nil)
	}
	return doc
}

// flatten walks the condition tree left to right. Each emitted entry
// records the combinator joining it to everything before it; the first
// entry carries none.
func flatten(n *models.ConditionNode, negated bool, logic models.LogicalOperator, out []models.DocumentCondition) []models.DocumentCondition {
	if n.Leaf() {
		return append(out, models.DocumentCondition{
			Field:    n.Field,
			Operator: n.Operator,
			Value:    n.Value,
			Logic:    logic,
			Negated:  negated,
		})
	}
	if n.Op == models.LogicNot {
		for _, child := range n.Children {
			out = flatten(child, !negated, logic, out)
		}
		return out
	}
	for i, child := range n.Children {
		childLogic := logic
		if i > 0 {
			childLogic = n.Op
		}
		out = flatten(child, negated, childLogic, out)
	}
	return out
}
