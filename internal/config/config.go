package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config 聚合客户端的配置项。
type Config struct {
	Assistant AssistantConfig `yaml:"assistant,omitempty"`
	Identity  IdentityConfig  `yaml:"identity,omitempty"`
	Capture   CaptureConfig   `yaml:"capture,omitempty"`
	Playback  PlaybackConfig  `yaml:"playback,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// AssistantConfig 描述助手后端的地址与超时。
type AssistantConfig struct {
	BaseURL          string        `yaml:"baseUrl,omitempty"`
	AudioPath        string        `yaml:"audioPath,omitempty"`
	HTTPTimeout      time.Duration `yaml:"httpTimeout,omitempty"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout,omitempty"`
	PingInterval     time.Duration `yaml:"pingInterval,omitempty"`
}

// IdentityConfig 描述登录方式：预签发令牌或 Google OAuth。
type IdentityConfig struct {
	Token        string   `yaml:"token,omitempty"`
	DisplayName  string   `yaml:"displayName,omitempty"`
	ClientID     string   `yaml:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty"`
	CallbackAddr string   `yaml:"callbackAddr,omitempty"`
	TokenPath    string   `yaml:"tokenPath,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// UseOAuth reports whether interactive sign-in is configured.
func (c IdentityConfig) UseOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// CaptureConfig 描述录音来源。
type CaptureConfig struct {
	Command string `yaml:"command,omitempty"`
	File    string `yaml:"file,omitempty"`
}

// PlaybackConfig 描述回复音频的播放方式。
type PlaybackConfig struct {
	Command string `yaml:"command,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Load 从环境变量加载配置，path 非空时再合并 YAML 文件，文件中的非零值优先。
func Load(path string) (*Config, error) {
	cfg, err := loadEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(fromFile, *cfg); err != nil {
			return nil, fmt.Errorf("merge configuration: %w", err)
		}
		cfg = fromFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML configuration file, rejecting unknown keys.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open configuration file %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var cfg Config
	if err := cfg.loadFrom(f); err != nil {
		return nil, fmt.Errorf("cannot load configuration file %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) loadFrom(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Assistant.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid assistant.baseUrl (ASSISTANT_BASE_URL) value %q", c.Assistant.BaseURL)
	}
	if !strings.HasPrefix(c.Assistant.AudioPath, "/") {
		return fmt.Errorf("invalid assistant.audioPath (ASSISTANT_AUDIO_PATH) value %q: must start with /", c.Assistant.AudioPath)
	}
	if c.Capture.Command != "" && c.Capture.File != "" {
		return errors.New("capture.command (CAPTURE_COMMAND) and capture.file (CAPTURE_FILE) are mutually exclusive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format (LOG_FORMAT) value %q", c.Log.Format)
	}
	return nil
}

func loadEnv() (*Config, error) {
	assistant, err := loadAssistantConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Assistant: assistant,
		Identity: IdentityConfig{
			Token:        strings.TrimSpace(os.Getenv("ID_TOKEN")),
			DisplayName:  strings.TrimSpace(os.Getenv("ID_DISPLAY_NAME")),
			ClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
			CallbackAddr: getEnvOrDefault("OAUTH_CALLBACK_ADDR", "127.0.0.1:8765"),
			TokenPath:    getEnvOrDefault("OAUTH_TOKEN_PATH", defaultTokenPath()),
		},
		Capture: CaptureConfig{
			Command: strings.TrimSpace(os.Getenv("CAPTURE_COMMAND")),
			File:    strings.TrimSpace(os.Getenv("CAPTURE_FILE")),
		},
		Playback: PlaybackConfig{
			Command: strings.TrimSpace(os.Getenv("PLAYBACK_COMMAND")),
			Dir:     strings.TrimSpace(os.Getenv("PLAYBACK_DIR")),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}, nil
}

func loadAssistantConfig() (AssistantConfig, error) {
	httpTimeout, err := parseDurationEnv("ASSISTANT_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}

	handshakeTimeout, err := parseDurationEnv("ASSISTANT_HANDSHAKE_TIMEOUT", 10*time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}

	pingInterval, err := parseDurationEnv("ASSISTANT_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return AssistantConfig{}, err
	}

	return AssistantConfig{
		BaseURL:          strings.TrimRight(getEnvOrDefault("ASSISTANT_BASE_URL", "http://localhost:8000"), "/"),
		AudioPath:        getEnvOrDefault("ASSISTANT_AUDIO_PATH", "/ws/audio"),
		HTTPTimeout:      httpTimeout,
		HandshakeTimeout: handshakeTimeout,
		PingInterval:     pingInterval,
	}, nil
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir + string(os.PathSeparator) + "voiceclient" + string(os.PathSeparator) + "token.json"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
