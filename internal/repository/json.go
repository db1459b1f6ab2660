package repository

import (
	"encoding/json"
	"fmt"
)

// mergeExtraJSON 合并extra JSON：新键覆盖，未知旧键原样保留
// 例如写入selectedModel不能抹掉已存在的contextResetAt
func mergeExtraJSON(existing string, patch map[string]interface{}) (string, error) {
	merged := make(map[string]interface{})
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &merged); err != nil {
			return "", fmt.Errorf("failed to parse existing extra: %w", err)
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("failed to marshal merged extra: %w", err)
	}
	return string(data), nil
}
