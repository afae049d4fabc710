package agent

import (
	"fmt"
	"math"
	"strings"
)

// Argument helpers shared by tool validators. The LLM frequently emits
// integer-valued floats (10.0 for a limit of 10); IntArg rounds those
// before range validation.

// StringArg extracts a required, non-empty string argument.
func StringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", NewToolError(CodeValidation, fmt.Sprintf("missing required argument %q", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", NewToolError(CodeValidation, fmt.Sprintf("argument %q must be a string", key))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewToolError(CodeValidation, fmt.Sprintf("argument %q must not be empty", key))
	}
	return s, nil
}

// OptionalStringArg extracts a string argument, returning def when the
// key is absent.
func OptionalStringArg(args map[string]any, key, def string) (string, error) {
	if _, ok := args[key]; !ok {
		return def, nil
	}
	return StringArg(args, key)
}

// IntArg extracts an integer argument with a default and an inclusive
// range. Floats with integral magnitude are rounded first.
func IntArg(args map[string]any, key string, def, min, max int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	n, err := asInt(key, v)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, NewToolError(CodeValidation,
			fmt.Sprintf("argument %q must be between %d and %d", key, min, max))
	}
	return n, nil
}

func asInt(key string, v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int32:
		return int(val), nil
	case int64:
		return int(val), nil
	case float64:
		rounded := math.Round(val)
		if math.Abs(val-rounded) > 1e-9 {
			return 0, NewToolError(CodeValidation, fmt.Sprintf("argument %q must be an integer", key))
		}
		return int(rounded), nil
	case float32:
		return asInt(key, float64(val))
	default:
		return 0, NewToolError(CodeValidation, fmt.Sprintf("argument %q must be an integer", key))
	}
}
