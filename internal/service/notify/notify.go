package notify

import (
	"sync"
	"time"

	log "github.com/echocat/slf4g"
)

// Messages shown to the user. The exact strings are part of the client contract.
const (
	FileUploaded          = "File uploaded!"
	UploadFailed          = "Upload failed."
	ContextSet            = "Context set!"
	ContextFailed         = "Failed to set context."
	VoicesFailed          = "Failed to load voices."
	MicrophoneUnavailable = "Microphone unavailable."
	RecordingFailed       = "Recording failed."
	NotConnected          = "Not connected: message was not sent."
	ConnectionLost        = "Connection to assistant lost."
	ConnectFailed         = "Could not connect to assistant."
)

// DefaultTTL 通知自动消失的时长
const DefaultTTL = 3 * time.Second

// Notifier surfaces a short transient message to the user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) {
	if f != nil {
		f(message)
	}
}

// Nop discards every message.
var Nop Notifier = NotifierFunc(nil)

// Snackbar holds at most one visible message and dismisses it after a TTL.
// A newer message replaces the current one and restarts the timer.
type Snackbar struct {
	ttl  time.Duration
	sink func(message string)

	mu      sync.Mutex
	current string
	seq     uint64
	timer   *time.Timer
}

// NewSnackbar creates a snackbar; sink receives each message as it is shown.
func NewSnackbar(ttl time.Duration, sink func(message string)) *Snackbar {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Snackbar{ttl: ttl, sink: sink}
}

// Notify shows message and schedules its dismissal.
func (s *Snackbar) Notify(message string) {
	if message == "" {
		return
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.current = message
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.ttl, func() { s.dismiss(seq) })
	sink := s.sink
	s.mu.Unlock()

	log.With("message", message).Debug("snackbar shown")
	if sink != nil {
		sink(message)
	}
}

// Current returns the visible message, "" once dismissed.
func (s *Snackbar) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close stops the pending dismissal timer and clears the message.
func (s *Snackbar) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.current = ""
}

func (s *Snackbar) dismiss(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 只清除本次定时器对应的消息
	if s.seq != seq {
		return
	}
	s.current = ""
	s.timer = nil
}
