package engine

import "context"

type ctxKey int

const stateCtxKey ctxKey = iota

// ContextWithState attaches the owning session state to a tool execution
// context.
func ContextWithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, stateCtxKey, st)
}

// StateFromContext returns the session state a tool is executing under, or
// nil when the tool was invoked outside a session.
func StateFromContext(ctx context.Context) *State {
	st, _ := ctx.Value(stateCtxKey).(*State)
	return st
}
