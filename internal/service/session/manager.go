package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	log "github.com/echocat/slf4g"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/assistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/playback"
)

var (
	ErrChannelNotOpen = errors.New("audio channel is not open")
	ErrSuperseded     = errors.New("session superseded by a newer sign-in")
)

// State 会话通道状态
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// TranscriptWriter receives assistant turns once their audio has arrived.
type TranscriptWriter interface {
	AppendAssistant(text string) error
}

// Config 会话管理器依赖
type Config struct {
	URL        string
	Options    Options
	Dialer     Dialer
	Tokens     identity.TokenSource
	Transcript TranscriptWriter
	Player     playback.Player
	Notifier   notify.Notifier
}

// Manager owns the single audio session of the client: its channel, the
// selected voice and the pending reply buffers.
type Manager struct {
	url        string
	opts       Options
	dialer     Dialer
	tokens     identity.TokenSource
	transcript TranscriptWriter
	player     playback.Player
	notifier   notify.Notifier
	router     *Router

	ctx    context.Context
	cancel context.CancelFunc

	// voiceMu 保证声音通知先于音频且按调用顺序发出，网络写入不持有 mu
	voiceMu sync.Mutex

	mu                sync.Mutex
	state             State
	user              identity.User
	sessionID         string
	channel           *Channel
	voiceID           string
	pendingTranscript string
	pendingReply      string
	generation        uint64
}

// NewManager 创建会话管理器
func NewManager(cfg Config) *Manager {
	opts := cfg.Options.withDefaults()
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	player := cfg.Player
	if player == nil {
		player = playback.NopPlayer{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url:        cfg.URL,
		opts:       opts,
		dialer:     dialer,
		tokens:     cfg.Tokens,
		transcript: cfg.Transcript,
		player:     player,
		notifier:   notifier,
		router:     NewRouter(),
		ctx:        ctx,
		cancel:     cancel,
	}

	m.router.Register(KindAudioReply, m.handleAudioReply)
	m.router.Register(KindReplyMetadata, m.handleReplyMetadata)
	m.router.Register(KindUnknown, m.handleUnknown)
	return m
}

// OnAuthenticated opens the session for user. An open session of the same
// user is kept; one of another user is closed first.
func (m *Manager) OnAuthenticated(ctx context.Context, user identity.User) error {
	m.mu.Lock()
	if m.state != StateClosed && m.user.ID == user.ID {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	old := m.channel
	m.channel = nil
	m.state = StateConnecting
	m.user = user
	m.sessionID = ""
	m.pendingTranscript, m.pendingReply = "", ""
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	header := http.Header{}
	if m.tokens != nil {
		token, err := m.tokens.Token(ctx)
		if err != nil {
			log.WithError(err).Warn("token unavailable, dialing without credentials")
		} else if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, err := m.dialer.Dial(ctx, m.url, header)
	if err != nil {
		m.mu.Lock()
		if m.generation == gen {
			m.state = StateClosed
		}
		m.mu.Unlock()
		return fmt.Errorf("open audio channel: %w", err)
	}

	ch := newChannel(m.ctx, conn, m.opts, m.router, m.handleChannelClosed)

	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		_ = ch.Close()
		return ErrSuperseded
	}
	m.channel = ch
	m.state = StateOpen
	m.sessionID = uuid.NewString()
	sessionID := m.sessionID
	voiceID := m.voiceID
	m.mu.Unlock()

	// 离线时选择的声音在通道打开后立即通知后端
	if voiceID != "" {
		if err := ch.SendJSON(assistant.ControlMessage{VoiceID: voiceID}); err != nil {
			log.WithError(err).Warn("failed to announce voice")
		}
	}
	ch.start()

	log.With("session", sessionID).
		With("user", user.ID).
		Info("audio session opened")
	return nil
}

// OnVoiceChanged announces voiceID on the open session; while no session is
// open the value is only remembered. An empty identifier forgets the
// remembered voice without sending anything.
func (m *Manager) OnVoiceChanged(voiceID string) error {
	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()

	m.mu.Lock()
	m.voiceID = voiceID
	ch := m.channel
	open := m.state == StateOpen
	m.mu.Unlock()

	if voiceID == "" || !open || ch == nil {
		return nil
	}
	if err := ch.SendJSON(assistant.ControlMessage{VoiceID: voiceID}); err != nil {
		log.WithError(err).With("voice", voiceID).Warn("failed to send voice change")
		return fmt.Errorf("send voice change: %w", err)
	}
	return nil
}

// SendAudio sends one recorded utterance as a binary frame.
func (m *Manager) SendAudio(payload []byte) error {
	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()

	m.mu.Lock()
	ch := m.channel
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || ch == nil {
		return ErrChannelNotOpen
	}
	if err := ch.SendBinary(payload); err != nil {
		if errors.Is(err, ErrChannelClosed) {
			return ErrChannelNotOpen
		}
		return fmt.Errorf("send audio: %w", err)
	}
	log.With("bytes", len(payload)).Debug("utterance sent")
	return nil
}

// OnTeardown closes the session. Calling it on a closed session is a no-op.
func (m *Manager) OnTeardown() {
	m.mu.Lock()
	m.generation++
	ch := m.channel
	m.channel = nil
	m.state = StateClosed
	m.user = identity.User{}
	m.sessionID = ""
	m.pendingTranscript, m.pendingReply = "", ""
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
		log.Info("audio session closed")
	}
}

// Close tears the session down and releases the manager.
func (m *Manager) Close() {
	m.OnTeardown()
	m.cancel()
}

// State returns the current channel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the identifier of the open session, "" when closed.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// VoiceID returns the most recently chosen voice.
func (m *Manager) VoiceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiceID
}

// User returns the user the session was opened for.
func (m *Manager) User() identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Pending returns the buffered transcript and reply text awaiting audio.
func (m *Manager) Pending() (transcript, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingTranscript, m.pendingReply
}

func (m *Manager) handleAudioReply(ctx context.Context, msg Inbound) {
	reply, ok := msg.(AudioReply)
	if !ok {
		return
	}

	if len(reply.Data) == 0 {
		log.Warn("assistant returned an empty reply")
	} else if err := m.player.Play(ctx, playback.NewClip(reply.Data)); err != nil {
		log.WithError(err).Warn("reply playback failed")
	}

	m.mu.Lock()
	text := m.pendingReply
	m.pendingReply = ""
	m.pendingTranscript = ""
	m.mu.Unlock()

	// 没有文本的回复音频不会产生助手记录
	if text == "" || m.transcript == nil {
		return
	}
	if err := m.transcript.AppendAssistant(text); err != nil {
		log.WithError(err).Warn("failed to record assistant turn")
	}
}

func (m *Manager) handleReplyMetadata(_ context.Context, msg Inbound) {
	meta, ok := msg.(ReplyMetadata)
	if !ok {
		return
	}
	m.mu.Lock()
	m.pendingTranscript = meta.Transcript
	m.pendingReply = meta.Response
	m.mu.Unlock()
	log.With("transcript", meta.Transcript).Debug("reply metadata received")
}

func (m *Manager) handleUnknown(_ context.Context, msg Inbound) {
	frame, _ := msg.(UnknownFrame)
	log.With("bytes", len(frame.Raw)).Debug("unknown frame ignored")
}

func (m *Manager) handleChannelClosed(ch *Channel, err error) {
	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return
	}
	m.channel = nil
	m.state = StateClosed
	m.sessionID = ""
	m.pendingTranscript, m.pendingReply = "", ""
	m.mu.Unlock()

	if err != nil {
		log.WithError(err).Warn("audio channel dropped")
	} else {
		log.Warn("audio channel closed by assistant")
	}
	m.notifier.Notify(notify.ConnectionLost)
}
