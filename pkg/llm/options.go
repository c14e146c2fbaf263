package llm

import "context"

type contextKey string

// DebugDirContextKey groups the raw chunk dumps of one request under a
// common folder (see StreamDebugger).
const DebugDirContextKey contextKey = "llm_debug_dir"

// CallOptions carries per-call overrides that a provider may honor.
// Zero values mean "use the provider group configuration".
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

type callOptionsKey struct{}

// WithCallOptions attaches per-call overrides to ctx.
func WithCallOptions(ctx context.Context, opts CallOptions) context.Context {
	return context.WithValue(ctx, callOptionsKey{}, opts)
}

// CallOptionsFrom returns the overrides attached by WithCallOptions.
func CallOptionsFrom(ctx context.Context) CallOptions {
	opts, _ := ctx.Value(callOptionsKey{}).(CallOptions)
	return opts
}

// Temperature is a helper for CallOptions.Temperature literals.
func Temperature(t float64) *float64 {
	return &t
}
