package authcore

import "context"

type notifierContextKey struct{}

// WithNotifier attaches a request-scoped notification sink to ctx. Manager
// operations record expected failures (unauthorized, conflict, throttled)
// on it instead of returning errors.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierContextKey{}, n)
}

func notifierFromContext(ctx context.Context) Notifier {
	if ctx == nil {
		return NoOpNotifier{}
	}
	if n, ok := ctx.Value(notifierContextKey{}).(Notifier); ok && n != nil {
		return n
	}
	return NoOpNotifier{}
}
