package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// probe reads one candidate value for a logical attribute.
type probe func(obj map[string]any) (string, bool)

// numberProbe reads one candidate numeric value for a logical attribute.
type numberProbe func(obj map[string]any) (float64, bool)

// first returns the first probe hit, or "".
func first(obj map[string]any, probes ...probe) string {
	for _, p := range probes {
		if v, ok := p(obj); ok {
			return v
		}
	}
	return ""
}

// firstNumber returns the first numeric probe hit.
func firstNumber(obj map[string]any, probes ...numberProbe) (float64, bool) {
	for _, p := range probes {
		if v, ok := p(obj); ok {
			return v, true
		}
	}
	return 0, false
}

// at probes a (possibly nested) key path for text.
func at(path ...string) probe {
	return func(obj map[string]any) (string, bool) {
		s := textOf(lookup(obj, path...))
		return s, s != ""
	}
}

// head probes the first element of an array at path.
func head(path ...string) probe {
	return func(obj map[string]any) (string, bool) {
		arr, ok := lookup(obj, path...).([]any)
		if !ok || len(arr) == 0 {
			return "", false
		}
		s := textOf(arr[0])
		return s, s != ""
	}
}

// numberAt probes a key path that must already hold a JSON number.
func numberAt(path ...string) numberProbe {
	return func(obj map[string]any) (float64, bool) {
		return asNumber(lookup(obj, path...), false)
	}
}

// coerceAt probes a key path, accepting numeric strings as well.
func coerceAt(path ...string) numberProbe {
	return func(obj map[string]any) (float64, bool) {
		return asNumber(lookup(obj, path...), true)
	}
}

func lookup(obj map[string]any, path ...string) any {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// textOf renders scalars as cleaned text. Objects and arrays yield "".
func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return CleanText(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

func asNumber(v any, coerce bool) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		if !coerce {
			return 0, false
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// truthy mirrors loose presence checks: empty strings, zero numbers, false
// and null are absent, every object or array is present.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	}
	return true
}

func anyTruthy(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if truthy(obj[k]) {
			return true
		}
	}
	return false
}

// textList cleans every scalar in an array, or wraps a lone string.
func textList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := textOf(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if s := CleanText(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

func floatPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func intPtr(v float64, ok bool) *int {
	if !ok {
		return nil
	}
	n := int(math.Round(v))
	return &n
}
