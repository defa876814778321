package identity

import (
	"context"
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// AnonymousProvider accepts any token and treats it as the user id itself,
// so all devices presenting the same token share one identity. An empty
// token gets a freshly generated guest id.
type AnonymousProvider struct{}

// NewAnonymousProvider creates a provider for tokenless deployments.
func NewAnonymousProvider() *AnonymousProvider {
	return &AnonymousProvider{}
}

// Resolve derives an identity from the token.
func (p *AnonymousProvider) Resolve(_ context.Context, token string) (Identity, error) {
	if token == "" {
		id, err := nanoid.New()
		if err != nil {
			return Identity{}, fmt.Errorf("failed to generate guest id: %w", err)
		}
		token = "guest-" + id
	}

	return Identity{
		UserID: token,
		Name:   guestName(token),
	}, nil
}

// guestName builds a short human-readable name from a user id.
func guestName(userID string) string {
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "Guest " + suffix
}
