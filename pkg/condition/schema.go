package condition

import (
	"fmt"
	"strings"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON Schema every stored branching rule must satisfy.
const configSchema = `{
	"type": "object",
	"properties": {
		"field": {"type": "string", "minLength": 1, "pattern": "^[^.]+(\\.[^.]+)*$"},
		"operator": {"type": "string", "enum": ["==", "!=", ">", "<", ">=", "<=", "in", "contains"]},
		"value": {}
	},
	"required": ["field"],
	"additionalProperties": false
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// Parse validates a raw branching rule and converts it into a typed Condition.
// An empty or nil config yields a nil Condition, which always passes.
func Parse(raw map[string]any) (*models.Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate condition config: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("invalid condition config: %s", strings.Join(problems, "; "))
	}

	cond := &models.Condition{
		Field:    raw["field"].(string),
		Operator: models.OperatorEqual,
		Value:    raw["value"],
	}

	if op, ok := raw["operator"].(string); ok {
		cond.Operator = models.Operator(op)
	}

	if cond.Operator.Numeric() {
		if _, ok := toFloat(cond.Value); !ok {
			return nil, fmt.Errorf("invalid condition config: operator %s needs a numeric value, got %v", cond.Operator, cond.Value)
		}
	}

	return cond, nil
}
