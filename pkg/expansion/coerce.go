package expansion

import (
	"fmt"
	"strconv"

	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// coerce converts a raw JSON-decoded value (string, float64, bool, or
// already the right Go type) to the Go type implied by format. JSON numbers
// always decode as float64, so int/float formats both accept a float64 in
// addition to their native type and numeric strings.
func coerce(field, format string, v any) (any, error) {
	if v == nil {
		// An absent seed means "draw one at dispatch time"; other absent
		// scalars fall back to their Go zero value.
		switch format {
		case models.FormatInt:
			return int64(0), nil
		case models.FormatFloat:
			return float64(0), nil
		case models.FormatBool:
			return false, nil
		case models.FormatString:
			return "", nil
		}
	}
	switch format {
	case models.FormatString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, specInvalid(field, fmt.Sprintf("value %v is not a string", v))
	case models.FormatInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, specInvalid(field, fmt.Sprintf("value %q is not an int", n))
			}
			return i, nil
		}
		return nil, specInvalid(field, fmt.Sprintf("value %v is not an int", v))
	case models.FormatFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, specInvalid(field, fmt.Sprintf("value %q is not a float", n))
			}
			return f, nil
		}
		return nil, specInvalid(field, fmt.Sprintf("value %v is not a float", v))
	case models.FormatBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, specInvalid(field, fmt.Sprintf("value %v is not a bool", v))
	default:
		return nil, specInvalid(field, fmt.Sprintf("unknown format %q", format))
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
