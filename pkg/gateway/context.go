package gateway

import "context"

// connKey is an unexported type so no other package can collide with the
// gateway's context values.
type connKey int

const clientIDKey connKey = iota

// withClientID stamps the authenticated connection id onto the request
// context; handlers read it back to attribute subscriptions and audit rows.
func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func clientIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}
