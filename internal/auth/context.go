package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxExtension ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, extension, role string) context.Context {
	ctx = context.WithValue(ctx, ctxExtension, extension)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func Extension(ctx context.Context) (string, error) {
	v := ctx.Value(ctxExtension)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("extension not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
