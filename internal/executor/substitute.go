package executor

import (
	"fmt"
	"regexp"
	"strings"
)

// maxSubstitutionIterations bounds transitive placeholder resolution (a
// substituted value that itself contains a placeholder). Ten passes is far
// more than any real chain needs and guarantees termination regardless of
// what a task definition contains.
const maxSubstitutionIterations = 10

var (
	curlyPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	barePlaceholder  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)\b`)
)

// substituteString replaces ${NAME} placeholders with str(context[NAME]).
// As a deprecated compatibility form it also replaces bare $NAME, but only
// within strings that contain no ${NAME} form of that same name — the bare
// form exists for older task definitions and is never the primary syntax.
// Unresolvable names (absent from context) are left untouched.
func substituteString(s string, ctx Context) string {
	original := s
	for i := 0; i < maxSubstitutionIterations; i++ {
		next := substituteOnce(s, original, ctx)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// substituteOnce runs one substitution pass over s. The bare-form check is
// made against original, the string as it was before the first pass, so a
// bare $NAME stays literal even after its ${NAME} sibling has been replaced.
func substituteOnce(s, original string, ctx Context) string {
	replaced := curlyPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		name := curlyPlaceholder.FindStringSubmatch(match)[1]
		if v, ok := ctx[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})

	replaced = barePlaceholder.ReplaceAllStringFunc(replaced, func(match string) string {
		name := barePlaceholder.FindStringSubmatch(match)[1]
		if strings.Contains(original, "${"+name+"}") {
			return match
		}
		if v, ok := ctx[name]; ok {
			return fmt.Sprint(v)
		}
		return match
	})

	return replaced
}

// substituteHeaders applies substitution to every header value.
func substituteHeaders(headers map[string]string, ctx Context) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = substituteString(v, ctx)
	}
	return out
}

// substituteBody applies substitution to every string leaf of a JSON-like
// body tree, recursing through nested maps and slices and leaving
// non-string leaves (numbers, bools, nil) unchanged.
func substituteBody(body map[string]interface{}, ctx Context) map[string]interface{} {
	if body == nil {
		return nil
	}
	out := make(map[string]interface{}, len(body))
	for k, v := range body {
		out[k] = substituteValue(v, ctx)
	}
	return out
}

func substituteValue(v interface{}, ctx Context) interface{} {
	switch val := v.(type) {
	case string:
		return substituteString(val, ctx)
	case map[string]interface{}:
		return substituteBody(val, ctx)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, ctx)
		}
		return out
	default:
		return val
	}
}
