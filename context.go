package goAudit

import "context"

type principalContextKey struct{}
type originContextKey struct{}
type layerContextKey struct{}

// WithPrincipal attaches the acting user to ctx. RecordContext copies it into
// Event.Principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// WithOriginAddress attaches the caller's network address to ctx.
func WithOriginAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, originContextKey{}, addr)
}

// WithLayer attaches the request layer ("rest", "transport", ...) to ctx.
func WithLayer(ctx context.Context, layer string) context.Context {
	return context.WithValue(ctx, layerContextKey{}, layer)
}

func principalFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	principal, _ := ctx.Value(principalContextKey{}).(string)
	return principal
}

func originFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	addr, _ := ctx.Value(originContextKey{}).(string)
	return addr
}

func layerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	layer, _ := ctx.Value(layerContextKey{}).(string)
	return layer
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) string {
	return principalFromContext(ctx)
}
