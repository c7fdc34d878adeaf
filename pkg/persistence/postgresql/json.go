package postgresql

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/flowgate/pkg/models"
)

// marshalMap encodes a JSONB column; a nil map is stored as NULL.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}

	return data, nil
}

func unmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var m map[string]any

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal json column: %w", err)
	}

	return m, nil
}

func marshalCondition(cond *models.Condition) ([]byte, error) {
	if cond.Empty() {
		return nil, nil
	}

	data, err := json.Marshal(cond)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal condition config: %w", err)
	}

	return data, nil
}

func unmarshalCondition(data []byte) (*models.Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var cond models.Condition

	err := json.Unmarshal(data, &cond)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition config: %w", err)
	}

	if cond.Empty() {
		return nil, nil
	}

	return &cond, nil
}
