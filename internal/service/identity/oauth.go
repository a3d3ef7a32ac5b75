package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/echocat/slf4g"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	DefaultCallbackAddr = "127.0.0.1:8765"
	callbackPath        = "/callback"
	idTokenKey          = "id_token"
)

// UserInfoFunc resolves the profile of the token owner.
type UserInfoFunc func(ctx context.Context, ts oauth2.TokenSource) (User, error)

// OAuthConfig 交互式登录配置
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackAddr string // 本地回调监听地址
	TokenPath    string // 令牌缓存文件，空表示不持久化
	Scopes       []string
	Endpoint     oauth2.Endpoint
	// Prompt shows the authorization URL to the user.
	Prompt   func(authURL string)
	UserInfo UserInfoFunc
}

// OAuthProvider signs in through the browser with an authorization code flow
// (PKCE) redirected to a loopback listener.
type OAuthProvider struct {
	config    *oauth2.Config
	addr      string
	tokenPath string
	prompt    func(string)
	userInfo  UserInfoFunc

	mu      sync.RWMutex
	token   *oauth2.Token
	idToken string
	source  oauth2.TokenSource
	user    User
}

type storedToken struct {
	Token   *oauth2.Token `json:"token"`
	IDToken string        `json:"id_token,omitempty"`
}

type callbackResult struct {
	code string
	err  error
}

// NewOAuthProvider 创建OAuth身份提供者，默认使用Google端点
func NewOAuthProvider(cfg OAuthConfig) (*OAuthProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if cfg.CallbackAddr == "" {
		cfg.CallbackAddr = DefaultCallbackAddr
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oauth2api.OpenIDScope, oauth2api.UserinfoEmailScope, oauth2api.UserinfoProfileScope}
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func(authURL string) {
			fmt.Printf("Open this URL to sign in:\n%s\n", authURL)
		}
	}
	if cfg.UserInfo == nil {
		cfg.UserInfo = GoogleUserInfo
	}

	p := &OAuthProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  "http://" + cfg.CallbackAddr + callbackPath,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		addr:      cfg.CallbackAddr,
		tokenPath: cfg.TokenPath,
		prompt:    cfg.Prompt,
		userInfo:  cfg.UserInfo,
	}

	if err := p.loadToken(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("ignoring unreadable token cache")
	}
	return p, nil
}

// SignIn reuses a cached token when it still works, otherwise runs the
// interactive flow.
func (p *OAuthProvider) SignIn(ctx context.Context) (User, error) {
	p.mu.RLock()
	cached := p.token
	p.mu.RUnlock()

	if cached != nil {
		user, err := p.activate(ctx, cached)
		if err == nil {
			log.With("user", user.ID).Info("signed in with cached token")
			return user, nil
		}
		log.WithError(err).Info("cached token rejected, starting interactive sign-in")
	}

	token, err := p.authorize(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	user, err := p.activate(ctx, token)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrSignInFailed, err)
	}
	if err := p.saveToken(); err != nil {
		log.WithError(err).Warn("failed to save token")
	}
	log.With("user", user.ID).Info("signed in")
	return user, nil
}

// Token prefers the OpenID identity token and falls back to the access token.
func (p *OAuthProvider) Token(_ context.Context) (string, error) {
	p.mu.RLock()
	source, idToken := p.source, p.idToken
	p.mu.RUnlock()

	if source == nil {
		return "", ErrNotSignedIn
	}
	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if fresh, ok := tok.Extra(idTokenKey).(string); ok && fresh != "" {
		p.mu.Lock()
		p.idToken = fresh
		p.token = tok
		p.mu.Unlock()
		return fresh, nil
	}
	if idToken != "" {
		return idToken, nil
	}
	return tok.AccessToken, nil
}

// SignOut forgets the session and removes the token cache.
func (p *OAuthProvider) SignOut() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.token = nil
	p.idToken = ""
	p.source = nil
	p.user = User{}

	if p.tokenPath == "" {
		return nil
	}
	if err := os.Remove(p.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (p *OAuthProvider) CurrentUser() (User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user, p.source != nil
}

func (p *OAuthProvider) activate(ctx context.Context, token *oauth2.Token) (User, error) {
	source := p.config.TokenSource(context.Background(), token)
	user, err := p.userInfo(ctx, source)
	if err != nil {
		return User{}, err
	}
	if !user.Valid() {
		return User{}, errors.New("profile has no user id")
	}

	idToken, _ := token.Extra(idTokenKey).(string)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	if idToken != "" {
		p.idToken = idToken
	}
	p.source = source
	p.user = user
	return user, nil
}

// authorize 在本地回调端口上完成授权码交换
func (p *OAuthProvider) authorize(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	results := make(chan callbackResult, 1)

	srv := &http.Server{
		Handler:           p.callbackRouter(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("callback server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	p.prompt(p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)))

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	token, err := p.config.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

func (p *OAuthProvider) callbackRouter(state string, results chan<- callbackResult) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	var once sync.Once
	deliver := func(res callbackResult) {
		once.Do(func() { results <- res })
	}

	r.Get(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if msg := q.Get("error"); msg != "" {
			deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", msg)})
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("Sign-in was cancelled. You can close this window."))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		deliver(callbackResult{code: code})
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Signed in. You can close this window."))
	})
	return r
}

func (p *OAuthProvider) loadToken() error {
	if p.tokenPath == "" {
		return os.ErrNotExist
	}
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return err
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Token == nil {
		return errors.New("token cache is empty")
	}

	p.mu.Lock()
	p.token = stored.Token
	p.idToken = stored.IDToken
	p.mu.Unlock()
	return nil
}

func (p *OAuthProvider) saveToken() error {
	if p.tokenPath == "" {
		return nil
	}
	p.mu.RLock()
	stored := storedToken{Token: p.token, IDToken: p.idToken}
	p.mu.RUnlock()

	if stored.Token == nil {
		return errors.New("no token to save")
	}
	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.tokenPath, data, 0o600)
}

// GoogleUserInfo looks the profile up with the Google OAuth2 API.
func GoogleUserInfo(ctx context.Context, ts oauth2.TokenSource) (User, error) {
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return User{}, fmt.Errorf("failed to create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return User{}, fmt.Errorf("failed to fetch user info: %w", err)
	}
	return User{
		ID:          info.Id,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
		Email:       info.Email,
	}, nil
}
