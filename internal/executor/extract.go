package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/shaharia-lab/taskrun/internal/storage"
)

// extractParams evaluates each ExtractParam's path against the parsed
// response and coerces the first match to the requested type. A path that
// matches nothing, or a value that fails coercion, is silently skipped —
// extraction is best-effort and never fails the step that produced the
// response it reads from.
func extractParams(defs []storage.ExtractParam, response interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if response == nil {
		return out
	}
	for _, def := range defs {
		val, err := jsonpath.Get(normalizePath(def.Path), response)
		if err != nil {
			continue
		}
		val = firstMatch(val)

		coerced, ok := coerce(val, def.Type)
		if !ok {
			continue
		}
		out[def.Name] = coerced
	}
	return out
}

// normalizePath rewrites the deprecated bare "$foo.bar" path form into the
// canonical "$.foo.bar" form jsonpath.Get expects.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "$.") || !strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path[1:]
}

// firstMatch collapses a wildcard match (jsonpath.Get returns []interface{})
// down to its first element, per the spec's "first match" extraction rule.
func firstMatch(val interface{}) interface{} {
	if s, ok := val.([]interface{}); ok {
		if len(s) == 0 {
			return nil
		}
		return s[0]
	}
	return val
}

func coerce(val interface{}, extractType storage.ExtractType) (interface{}, bool) {
	switch extractType {
	case storage.ExtractNumber:
		return coerceNumber(val)
	case storage.ExtractBoolean:
		return coerceBoolean(val)
	default:
		return coerceString(val)
	}
}

func coerceString(val interface{}) (interface{}, bool) {
	if val == nil {
		return nil, false
	}
	s := fmt.Sprint(val)
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	return s, true
}

func coerceNumber(val interface{}) (interface{}, bool) {
	switch v := val.(type) {
	case float64:
		return normalizeNumber(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return normalizeNumber(f), true
		}
		return nil, false
	default:
		return nil, false
	}
}

func normalizeNumber(f float64) interface{} {
	if f == math.Trunc(f) {
		return int64(f)
	}
	return f
}

func coerceBoolean(val interface{}) (interface{}, bool) {
	switch v := val.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}
