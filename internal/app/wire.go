package app

import (
	"fmt"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/config"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/assistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/capture"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/playback"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
)

// FromConfig builds client options from the loaded configuration. prompt
// shows the OAuth authorization URL; it may be nil.
func FromConfig(cfg *config.Config, notifier notify.Notifier, prompt func(authURL string)) (Options, error) {
	backend, err := assistant.NewClient(cfg.Assistant.BaseURL,
		assistant.WithHTTPClient(assistant.NewHTTPClient(cfg.Assistant.HTTPTimeout)),
		assistant.WithAudioPath(cfg.Assistant.AudioPath),
	)
	if err != nil {
		return Options{}, err
	}

	provider, err := newIdentity(cfg.Identity, prompt)
	if err != nil {
		return Options{}, err
	}

	player, err := newPlayer(cfg.Playback)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Identity: provider,
		Backend:  backend,
		AudioURL: backend.AudioURL(),
		Captures: newCaptures(cfg.Capture),
		Player:   player,
		Notifier: notifier,
		SessionOptions: session.Options{
			HandshakeTimeout: cfg.Assistant.HandshakeTimeout,
			PingInterval:     cfg.Assistant.PingInterval,
		},
	}, nil
}

func newIdentity(cfg config.IdentityConfig, prompt func(string)) (identity.Provider, error) {
	if !cfg.UseOAuth() {
		return identity.NewStaticProvider(cfg.Token, cfg.DisplayName), nil
	}
	provider, err := identity.NewOAuthProvider(identity.OAuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		CallbackAddr: cfg.CallbackAddr,
		TokenPath:    cfg.TokenPath,
		Scopes:       cfg.Scopes,
		Prompt:       prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sign-in: %w", err)
	}
	return provider, nil
}

// newCaptures 未配置录音来源时返回 nil，开始录音会提示麦克风不可用
func newCaptures(cfg config.CaptureConfig) capture.Factory {
	switch {
	case cfg.Command != "":
		return capture.CommandFactory(cfg.Command)
	case cfg.File != "":
		return capture.FileFactory(cfg.File)
	default:
		return nil
	}
}

func newPlayer(cfg config.PlaybackConfig) (playback.Player, error) {
	switch {
	case cfg.Command != "":
		return playback.NewCommandPlayer(cfg.Command)
	case cfg.Dir != "":
		return playback.NewDirPlayer(cfg.Dir)
	default:
		return playback.NopPlayer{}, nil
	}
}
