// Package constant holds request metadata keys shared across layers.
package constant

import "context"

// HeaderCallerUIDKey carries the already-authenticated caller identity,
// resolved by the upstream gateway. The service never authenticates; it only
// uses the caller UID for read-after-write pinning and log fields.
const HeaderCallerUIDKey = "Beegy-Caller-Uid"

type callerKey struct{}

// WithCaller stores the caller UID on the context.
func WithCaller(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, callerKey{}, uid)
}

// CallerFromContext returns the caller UID, or "" when unauthenticated
// internal traffic (e.g. migrations) is running.
func CallerFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(callerKey{}).(string)
	return uid
}
