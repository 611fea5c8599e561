package provider

import (
	"fmt"
	"strconv"
	"strings"

	"folio/internal/services"
)

// ArgType enumerates supported provider argument value types.
type ArgType string

const (
	ArgString ArgType = "string"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
)

// ArgSpec declares one argument a provider accepts.
type ArgSpec struct {
	Name     string
	Type     ArgType
	Required bool
	Default  any
}

// Args holds the concrete argument values a workflow step passes to a
// provider invocation.
type Args map[string]any

// ValidateArgs checks args against the provider's declared specs: required
// arguments present, no unknown keys, values coercible to the declared type.
// Missing optional arguments are filled from defaults. The returned Args is
// a normalized copy.
func ValidateArgs(specs []ArgSpec, args Args) (Args, error) {
	byName := make(map[string]ArgSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	for name := range args {
		if _, ok := byName[name]; !ok {
			return nil, services.Wrap(services.ErrValidation, "", "validate args", fmt.Sprintf("unknown argument %q", name), nil)
		}
	}

	normalized := make(Args, len(specs))
	for _, spec := range specs {
		raw, present := args[spec.Name]
		if !present {
			if spec.Required {
				return nil, services.Wrap(services.ErrValidation, "", "validate args", fmt.Sprintf("missing required argument %q", spec.Name), nil)
			}
			if spec.Default != nil {
				normalized[spec.Name] = spec.Default
			}
			continue
		}
		coerced, err := coerce(spec.Type, raw)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "validate args", fmt.Sprintf("argument %q: %v", spec.Name, err), nil)
		}
		normalized[spec.Name] = coerced
	}
	return normalized, nil
}

func coerce(argType ArgType, value any) (any, error) {
	switch argType {
	case ArgString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case ArgInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
			return nil, fmt.Errorf("value %v is not an integer", v)
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("value %q is not an integer", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("value %v is not an integer", value)
		}
	case ArgFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a number", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("value %v is not a number", value)
		}
	case ArgBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("value %q is not a boolean", v)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("value %v is not a boolean", value)
		}
	default:
		return nil, fmt.Errorf("unsupported argument type %q", argType)
	}
}

// StringArg reads a string argument, returning fallback when absent.
func (a Args) StringArg(name, fallback string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return fallback
}

// IntArg reads an int argument, returning fallback when absent.
func (a Args) IntArg(name string, fallback int) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// FloatArg reads a float argument, returning fallback when absent.
func (a Args) FloatArg(name string, fallback float64) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// BoolArg reads a bool argument, returning fallback when absent.
func (a Args) BoolArg(name string, fallback bool) bool {
	if v, ok := a[name].(bool); ok {
		return v
	}
	return fallback
}
