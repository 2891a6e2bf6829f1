package postgres

import (
	"fmt"
	"strings"
)

// vectorToString converts a float64 slice to the pgvector text format.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%f", v)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector converts the pgvector text format back to a float64
// slice. Unparseable components are dropped.
func stringToVector(s string) []float64 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}
	}

	parts := strings.Split(s, ",")
	result := make([]float64, 0, len(parts))

	for _, part := range parts {
		var val float64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &val); err == nil {
			result = append(result, val)
		}
	}

	return result
}
