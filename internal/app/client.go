package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	log "github.com/echocat/slf4g"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/capture"
	chatservice "github.com/zhouzirui/z-tavern/voiceclient/internal/service/chat"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/playback"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/turn"
)

// ErrUnknownVoice is returned when selecting a voice outside the catalog.
var ErrUnknownVoice = errors.New("voice is not in the catalog")

// Backend 助手后端的一次性请求
type Backend interface {
	FetchVoices(ctx context.Context, token string) (voice.Catalog, error)
	UploadDocument(ctx context.Context, token, filename string, r io.Reader) error
	SetContext(ctx context.Context, token, text string) error
	Health(ctx context.Context) error
}

// Options 客户端依赖，全部由调用方显式注入
type Options struct {
	Identity       identity.Provider
	Backend        Backend
	AudioURL       string
	Captures       capture.Factory
	Player         playback.Player
	Notifier       notify.Notifier
	Dialer         session.Dialer
	SessionOptions session.Options
}

// Client is the client context object. It owns the transcript, the audio
// session and the turn controller for one signed-in user at a time.
type Client struct {
	identity   identity.Provider
	backend    Backend
	notifier   notify.Notifier
	player     playback.Player
	transcript *chatservice.Service
	session    *session.Manager
	turns      *turn.Controller

	mu      sync.RWMutex
	user    identity.User
	catalog voice.Catalog
	voiceID string
}

// New 创建客户端
func New(opts Options) (*Client, error) {
	if opts.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("assistant backend is required")
	}
	if opts.AudioURL == "" {
		return nil, errors.New("audio URL is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Player == nil {
		opts.Player = playback.NopPlayer{}
	}

	transcript := chatservice.NewService()
	mgr := session.NewManager(session.Config{
		URL:        opts.AudioURL,
		Options:    opts.SessionOptions,
		Dialer:     opts.Dialer,
		Tokens:     opts.Identity,
		Transcript: transcript,
		Player:     opts.Player,
		Notifier:   opts.Notifier,
	})

	return &Client{
		identity:   opts.Identity,
		backend:    opts.Backend,
		notifier:   opts.Notifier,
		player:     opts.Player,
		transcript: transcript,
		session:    mgr,
		turns:      turn.NewController(opts.Captures, mgr, transcript, opts.Notifier),
	}, nil
}

// SignIn authenticates the user and opens the audio session. An identity
// failure leaves the client signed out and is only returned.
func (c *Client) SignIn(ctx context.Context) (identity.User, error) {
	user, err := c.identity.SignIn(ctx)
	if err != nil {
		log.WithError(err).Warn("sign-in failed")
		return identity.User{}, err
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	if err := c.session.OnAuthenticated(ctx, user); err != nil {
		log.WithError(err).Warn("failed to open audio session")
		c.notifier.Notify(notify.ConnectFailed)
		return user, err
	}
	return user, nil
}

// User returns the signed-in user.
func (c *Client) User() (identity.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user.Valid()
}

// LoadVoices fetches the catalog and selects its first entry.
func (c *Client) LoadVoices(ctx context.Context) (voice.Catalog, error) {
	catalog, err := c.backend.FetchVoices(ctx, c.token(ctx))
	if err != nil {
		log.WithError(err).Warn("failed to load voices")
		c.notifier.Notify(notify.VoicesFailed)
		return voice.Catalog{}, err
	}

	selected := catalog.Default()
	c.mu.Lock()
	c.catalog = catalog
	c.voiceID = selected
	c.mu.Unlock()

	if err := c.session.OnVoiceChanged(selected); err != nil {
		log.WithError(err).Warn("failed to announce default voice")
	}
	return catalog, nil
}

// Voices returns the loaded catalog.
func (c *Client) Voices() voice.Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// VoiceID returns the selected voice, "" when none.
func (c *Client) VoiceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceID
}

// SelectVoice chooses a catalog voice and announces it to the session.
func (c *Client) SelectVoice(id string) error {
	id = strings.TrimSpace(id)

	c.mu.Lock()
	if !c.catalog.Contains(id) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}
	c.voiceID = id
	c.mu.Unlock()

	return c.session.OnVoiceChanged(id)
}

// StartTurn begins recording an utterance.
func (c *Client) StartTurn(ctx context.Context) error {
	return c.turns.StartTurn(ctx)
}

// StopTurn finishes the utterance and sends it.
func (c *Client) StopTurn(ctx context.Context) error {
	return c.turns.StopTurn(ctx)
}

// ToggleTurn starts a recording when idle and stops it otherwise, reporting
// whether a recording is now in progress.
func (c *Client) ToggleTurn(ctx context.Context) (bool, error) {
	if c.turns.Recording() {
		return false, c.turns.StopTurn(ctx)
	}
	if err := c.turns.StartTurn(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Recording reports whether an utterance is being captured.
func (c *Client) Recording() bool {
	return c.turns.Recording()
}

// UploadFile uploads a local document.
func (c *Client) UploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		c.notifier.Notify(notify.UploadFailed)
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return c.UploadDocument(ctx, filepath.Base(path), f)
}

// UploadDocument uploads a document and reports the outcome through the
// notifier.
func (c *Client) UploadDocument(ctx context.Context, filename string, r io.Reader) error {
	if err := c.backend.UploadDocument(ctx, c.token(ctx), filename, r); err != nil {
		log.WithError(err).With("file", filename).Warn("upload failed")
		c.notifier.Notify(notify.UploadFailed)
		return err
	}
	c.notifier.Notify(notify.FileUploaded)
	return nil
}

// SetContext sends pasted text as context. Blank text sends nothing.
func (c *Client) SetContext(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := c.backend.SetContext(ctx, c.token(ctx), text); err != nil {
		log.WithError(err).Warn("set context failed")
		c.notifier.Notify(notify.ContextFailed)
		return err
	}
	c.notifier.Notify(notify.ContextSet)
	return nil
}

// Transcript returns a copy of the conversation so far.
func (c *Client) Transcript() []*schema.Message {
	return c.transcript.Transcript()
}

// SessionState returns the state of the audio session.
func (c *Client) SessionState() session.State {
	return c.session.State()
}

// Health probes the assistant backend.
func (c *Client) Health(ctx context.Context) error {
	return c.backend.Health(ctx)
}

// SignOut closes the session, signs the user out and resets the client.
func (c *Client) SignOut() error {
	c.turns.Abort()
	c.session.OnTeardown()
	err := c.identity.SignOut()
	c.Reset()
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Reset 清空会话相关的本地状态，声音选择保留
func (c *Client) Reset() {
	c.mu.Lock()
	c.user = identity.User{}
	c.mu.Unlock()
	c.transcript.Reset()
}

// Close releases the session and the player.
func (c *Client) Close() error {
	c.turns.Abort()
	c.session.Close()
	return c.player.Close()
}

func (c *Client) token(ctx context.Context) string {
	token, err := c.identity.Token(ctx)
	if err != nil {
		if !errors.Is(err, identity.ErrNotSignedIn) {
			log.WithError(err).Warn("token unavailable")
		}
		return ""
	}
	return token
}
