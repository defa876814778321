// Package identity resolves opaque client tokens to user identities. The
// gateway uses the resolved identity to default a session player's id and
// display name.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownToken is returned when a token resolves to no identity.
var ErrUnknownToken = errors.New("unknown token")

// Identity is a resolved user.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
}

// Provider resolves an opaque token to an identity.
type Provider interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// DisplayName returns the name to use for this identity's player: the display
// name when set, otherwise the local part of the email, otherwise the user id.
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	if i.Email != "" {
		if at := strings.Index(i.Email, "@"); at > 0 {
			return i.Email[:at]
		}
		return i.Email
	}
	return i.UserID
}
