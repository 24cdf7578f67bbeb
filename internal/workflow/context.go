package workflow

import "context"

type ctxKeyRunID struct{}

// WithRunID tags ctx with the id of the traversal it belongs to.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID{}, id)
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRunID{}).(string)
	return v, ok && v != ""
}
