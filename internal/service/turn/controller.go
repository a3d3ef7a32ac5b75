package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/echocat/slf4g"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/capture"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
)

var (
	ErrAlreadyRecording   = errors.New("already recording")
	ErrNotRecording       = errors.New("not recording")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrEmptyCapture       = errors.New("captured audio is empty")
)

// AudioSender delivers one finalized utterance to the open session.
type AudioSender interface {
	SendAudio(payload []byte) error
}

// TranscriptWriter records the optimistic user turn.
type TranscriptWriter interface {
	AppendUser(text string) error
}

// Controller 录音轮次控制器：空闲与录音两种状态严格交替
type Controller struct {
	sources    capture.Factory
	sender     AudioSender
	transcript TranscriptWriter
	notifier   notify.Notifier

	mu     sync.Mutex
	active capture.Source
}

// NewController 创建录音控制器
func NewController(sources capture.Factory, sender AudioSender, transcript TranscriptWriter, notifier notify.Notifier) *Controller {
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Controller{
		sources:    sources,
		sender:     sender,
		transcript: transcript,
		notifier:   notifier,
	}
}

// Recording reports whether a capture is in progress.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// StartTurn acquires a fresh capture source and starts recording.
func (c *Controller) StartTurn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrAlreadyRecording
	}
	if c.sources == nil {
		c.notifier.Notify(notify.MicrophoneUnavailable)
		return fmt.Errorf("%w: no capture source configured", ErrCaptureUnavailable)
	}

	src, err := c.sources.NewSource(ctx)
	if err == nil {
		err = src.Start(ctx)
	}
	if err != nil {
		log.WithError(err).Warn("capture unavailable")
		c.notifier.Notify(notify.MicrophoneUnavailable)
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	c.active = src
	log.Debug("recording started")
	return nil
}

// StopTurn finalizes the capture, records the user turn and sends the audio.
// The controller is idle afterwards whatever the outcome.
func (c *Controller) StopTurn(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNotRecording
	}
	src := c.active
	c.active = nil

	payload, err := src.Stop()
	if err != nil {
		log.WithError(err).Warn("recording failed")
		c.notifier.Notify(notify.RecordingFailed)
		return fmt.Errorf("finalize capture: %w", err)
	}
	if len(payload) == 0 {
		return ErrEmptyCapture
	}

	// 用户发言先于发送写入记录
	if c.transcript != nil {
		if err := c.transcript.AppendUser(chat.PlaceholderUtterance); err != nil {
			log.WithError(err).Warn("failed to record user turn")
		}
	}

	if err := c.sender.SendAudio(payload); err != nil {
		if errors.Is(err, session.ErrChannelNotOpen) {
			c.notifier.Notify(notify.NotConnected)
		} else {
			log.WithError(err).Warn("failed to send utterance")
		}
		return err
	}

	log.With("bytes", len(payload)).Info("utterance sent")
	return nil
}

// Abort discards an in-progress capture without sending it.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return
	}
	if _, err := c.active.Stop(); err != nil {
		log.WithError(err).Debug("discarded capture failed to stop")
	}
	c.active = nil
}
