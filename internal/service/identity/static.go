package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultDisplayName = "Guest"

// StaticProvider signs in with a pre-minted bearer token.
type StaticProvider struct {
	token string
	user  User

	mu       sync.RWMutex
	signedIn bool
}

// NewStaticProvider 使用预先签发的令牌创建身份提供者，用户ID由令牌派生
func NewStaticProvider(token, displayName string) *StaticProvider {
	token = strings.TrimSpace(token)
	if displayName == "" {
		displayName = defaultDisplayName
	}
	user := User{DisplayName: displayName}
	if token != "" {
		user.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(token)).String()
	}
	return &StaticProvider{token: token, user: user}
}

func (p *StaticProvider) SignIn(ctx context.Context) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if p.token == "" {
		return User{}, fmt.Errorf("%w: no identity token configured", ErrSignInFailed)
	}
	p.mu.Lock()
	p.signedIn = true
	p.mu.Unlock()
	return p.user, nil
}

func (p *StaticProvider) Token(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.signedIn {
		return "", ErrNotSignedIn
	}
	return p.token, nil
}

func (p *StaticProvider) SignOut() error {
	p.mu.Lock()
	p.signedIn = false
	p.mu.Unlock()
	return nil
}

func (p *StaticProvider) CurrentUser() (User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.signedIn {
		return User{}, false
	}
	return p.user, true
}
