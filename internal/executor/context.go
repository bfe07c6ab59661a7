// Package executor runs a single step's HTTP call: placeholder substitution,
// dispatch, response parsing, and parameter extraction. It knows nothing
// about chains, retries, or schedules — internal/chain composes steps using
// this package.
package executor

// Context holds the scalar values extracted from prior steps in a chain,
// keyed by the extract_params name. Values are string, bool, int64, or
// float64 — the types ExtractType coercion can produce.
type Context map[string]interface{}

// Merge returns a new Context containing c's entries overlaid with extra.
// The receiver is left untouched.
func (c Context) Merge(extra map[string]interface{}) Context {
	out := make(Context, len(c)+len(extra))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
