// Package requestid carries the correlation id shared by the fixture node and
// the step executor.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// FromContextOrNew returns the id carried by ctx, or a fresh one.
func FromContextOrNew(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return New()
}
