package command

import (
	"fmt"
	"strconv"
)

// resolveParams applies defaults, coerces declared types, and checks
// constraints. Defaults are applied before constraint checking. Unknown
// extra parameters are ignored unless the spec opts into strict mode.
func resolveParams(spec *Spec, raw map[string]any) (Params, error) {
	if spec.Strict {
		for name := range raw {
			if _, ok := spec.Params[name]; !ok {
				return nil, &ValidationError{
					Command:    spec.Name,
					Field:      name,
					Constraint: "is not a declared parameter",
				}
			}
		}
	}

	resolved := make(Params, len(spec.Params))
	for name, p := range spec.Params {
		value, present := raw[name]
		if !present {
			if p.Default != nil {
				value = p.Default
			} else if p.Required {
				return nil, &ValidationError{
					Command:    spec.Name,
					Field:      name,
					Constraint: "is required and has no default",
				}
			} else {
				continue
			}
		}

		coerced, err := coerce(spec.Name, name, p, value)
		if err != nil {
			return nil, err
		}
		resolved[name] = coerced
	}

	return resolved, nil
}

// coerce converts value to the declared parameter type and enforces min/max.
func coerce(command, field string, p ParamSpec, value any) (any, error) {
	switch p.Type {
	case ParamFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, &ValidationError{Command: command, Field: field, Constraint: "must be a number", Value: value}
		}
		if err := checkRange(command, field, p, f); err != nil {
			return nil, err
		}
		return f, nil

	case ParamInt:
		f, ok := toFloat(value)
		if !ok || f != float64(int(f)) {
			return nil, &ValidationError{Command: command, Field: field, Constraint: "must be an integer", Value: value}
		}
		if err := checkRange(command, field, p, f); err != nil {
			return nil, err
		}
		return int(f), nil

	case ParamBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b, nil
			}
		}
		return nil, &ValidationError{Command: command, Field: field, Constraint: "must be a boolean", Value: value}

	case ParamString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, &ValidationError{Command: command, Field: field, Constraint: "must be a string", Value: value}

	default:
		return nil, &ValidationError{Command: command, Field: field, Constraint: fmt.Sprintf("has unknown declared type %q", p.Type)}
	}
}

func checkRange(command, field string, p ParamSpec, f float64) error {
	if p.Min != nil && f < *p.Min {
		return &ValidationError{Command: command, Field: field, Constraint: fmt.Sprintf("must be >= %v", *p.Min), Value: f}
	}
	if p.Max != nil && f > *p.Max {
		return &ValidationError{Command: command, Field: field, Constraint: fmt.Sprintf("must be <= %v", *p.Max), Value: f}
	}
	return nil
}

// toFloat accepts the numeric representations produced by JSON and YAML
// decoders plus numeric strings from query parameters.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
