package identity

import (
	"context"
	"errors"
)

var (
	ErrNotSignedIn  = errors.New("not signed in")
	ErrSignInFailed = errors.New("sign-in failed")
)

// User 已认证的用户
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Valid reports whether the user carries an identifier.
func (u User) Valid() bool {
	return u.ID != ""
}

// TokenSource yields the bearer token attached to backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Provider is the identity provider the client signs in with.
type Provider interface {
	TokenSource
	SignIn(ctx context.Context) (User, error)
	SignOut() error
	CurrentUser() (User, bool)
}
