package auth

import "context"

type ctxKey string

const identityKey ctxKey = "auth_identity"

// ContextWithIdentity stores the resolved caller identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	if !ok || v.UserID == "" {
		return Identity{}, false
	}
	return v, true
}
