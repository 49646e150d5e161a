package attr

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"golang.org/x/exp/constraints"
)

func signed[T constraints.Signed](n T) (float64, string, bool) {
	return float64(n), strconv.FormatInt(int64(n), 10), true
}

func unsigned[T constraints.Unsigned](n T) (float64, string, bool) {
	return float64(n), strconv.FormatUint(uint64(n), 10), true
}

// number returns the float value and the exact decimal form of any Go
// integer or float.
func number(v any) (float64, string, bool) {
	switch n := v.(type) {
	case int:
		return signed(n)
	case int8:
		return signed(n)
	case int16:
		return signed(n)
	case int32:
		return signed(n)
	case int64:
		return signed(n)
	case uint:
		return unsigned(n)
	case uint8:
		return unsigned(n)
	case uint16:
		return unsigned(n)
	case uint32:
		return unsigned(n)
	case uint64:
		return unsigned(n)
	case float32:
		return float64(n), strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case float64:
		return n, strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return 0, "", false
}

// Float reports the numeric value of v when v is any Go integer or float.
func Float(v any) (float64, bool) {
	f, _, ok := number(v)
	return f, ok
}

// FormatNumber renders a number in its shortest decimal form. Integers keep
// every digit.
func FormatNumber(v any) (string, bool) {
	_, s, ok := number(v)
	return s, ok
}

// typeName names the runtime type of v the way type errors report it.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := Float(v); ok {
		return "number"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map, reflect.Struct:
		return "map"
	}
	return fmt.Sprintf("%T", v)
}

// coerce checks v against t and returns the normalized value. Lists become
// []any, maps become map[string]any, string sets []string and number sets
// []float64. An empty reason means v was accepted.
func coerce(t Type, v any) (any, string) {
	mismatch := func() (any, string) {
		return nil, fmt.Sprintf("Received value of type %q, expected value of type %q", typeName(v), t.String())
	}
	switch t.Kind {
	case KindString:
		if _, ok := v.(string); ok {
			return v, ""
		}
		return mismatch()
	case KindNumber:
		if _, ok := Float(v); ok {
			return v, ""
		}
		return mismatch()
	case KindBoolean:
		if _, ok := v.(bool); ok {
			return v, ""
		}
		return mismatch()
	case KindEnum:
		s, ok := v.(string)
		if !ok || !slices.Contains(t.Enum, s) {
			return nil, fmt.Sprintf("Value %q not found in set of acceptable values: %q", fmt.Sprint(v), t.Enum)
		}
		return s, ""
	case KindSet:
		elems, ok := setElements(v)
		if !ok {
			return mismatch()
		}
		if t.Elem == KindString {
			out := make([]string, 0, len(elems))
			for _, e := range elems {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Sprintf("Invalid set element of type %q, expected %q", typeName(e), "string")
				}
				if !slices.Contains(out, s) {
					out = append(out, s)
				}
			}
			return out, ""
		}
		out := make([]float64, 0, len(elems))
		for _, e := range elems {
			f, ok := Float(e)
			if !ok {
				return nil, fmt.Sprintf("Invalid set element of type %q, expected %q", typeName(e), "number")
			}
			if !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
		return out, ""
	case KindList:
		l, ok := asList(v)
		if !ok {
			return mismatch()
		}
		return l, ""
	case KindMap:
		m, ok := asMap(v)
		if !ok {
			return mismatch()
		}
		return m, ""
	case KindCustom:
		if t.Check != nil && !t.Check(v) {
			return nil, fmt.Sprintf("Received value of type %q, rejected by custom type", typeName(v))
		}
		return v, ""
	}
	return mismatch()
}

func setElements(v any) ([]any, bool) {
	switch s := v.(type) {
	case map[string]struct{}:
		out := make([]any, 0, len(s))
		for _, k := range slices.Sorted(maps.Keys(s)) {
			out = append(out, k)
		}
		return out, true
	case map[string]bool:
		out := make([]any, 0, len(s))
		for _, k := range slices.Sorted(maps.Keys(s)) {
			if s[k] {
				out = append(out, k)
			}
		}
		return out, true
	}
	return asList(v)
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return slices.Clone(l), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a binary value, not a list.
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = e
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// cloneValue deep-copies maps and lists so static defaults are never shared
// between items.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []float64:
		return slices.Clone(t)
	}
	return v
}
