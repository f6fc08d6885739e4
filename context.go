package authcore

import "context"

type sourceAddrContextKey struct{}
type userAgentContextKey struct{}

// WithSourceAddr attaches the caller's network address to ctx. It flows
// into every audit event emitted for the operation.
func WithSourceAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, sourceAddrContextKey{}, addr)
}

// WithUserAgent attaches the client's user-agent string to ctx for audit
// events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func sourceAddrFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	addr, _ := ctx.Value(sourceAddrContextKey{}).(string)
	return addr
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}
