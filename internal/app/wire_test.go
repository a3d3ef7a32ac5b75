package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/config"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/playback"
)

func baseConfig() *config.Config {
	return &config.Config{
		Assistant: config.AssistantConfig{
			BaseURL:   "https://coach.example.com",
			AudioPath: "/ws/audio",
		},
		Log: config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestFromConfigDefaults(t *testing.T) {
	opts, err := FromConfig(baseConfig(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "wss://coach.example.com/ws/audio", opts.AudioURL)
	assert.IsType(t, &identity.StaticProvider{}, opts.Identity)
	assert.IsType(t, playback.NopPlayer{}, opts.Player)
	assert.Nil(t, opts.Captures)
}

func TestFromConfigOAuthAndDevices(t *testing.T) {
	cfg := baseConfig()
	cfg.Identity = config.IdentityConfig{ClientID: "id", ClientSecret: "secret"}
	cfg.Capture.File = "utterance.wav"
	cfg.Playback.Dir = t.TempDir()

	opts, err := FromConfig(cfg, nil, func(string) {})
	require.NoError(t, err)
	assert.IsType(t, &identity.OAuthProvider{}, opts.Identity)
	assert.IsType(t, &playback.DirPlayer{}, opts.Player)
	assert.NotNil(t, opts.Captures)
}

func TestFromConfigBadBaseURL(t *testing.T) {
	cfg := baseConfig()
	cfg.Assistant.BaseURL = "ftp://nope"
	_, err := FromConfig(cfg, nil, nil)
	assert.Error(t, err)
}
