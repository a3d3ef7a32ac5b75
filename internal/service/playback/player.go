package playback

import (
	"context"
	"mime"
	"time"
)

// MIMEType 后端回复音频的编码
const MIMEType = "audio/mpeg"

// Clip is one inbound reply audio payload. It is transient and superseded by
// the next arrival.
type Clip struct {
	Data       []byte
	MIMEType   string
	ReceivedAt time.Time
}

// NewClip wraps a reply payload received now.
func NewClip(data []byte) Clip {
	return Clip{Data: data, MIMEType: MIMEType, ReceivedAt: time.Now()}
}

// Extension returns the file extension for the clip's media type.
func (c Clip) Extension() string {
	switch c.MIMEType {
	case "", MIMEType:
		return ".mp3"
	}
	if exts, err := mime.ExtensionsByType(c.MIMEType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// Player renders reply audio locally.
type Player interface {
	Play(ctx context.Context, clip Clip) error
	Close() error
}

// NopPlayer drops every clip.
type NopPlayer struct{}

func (NopPlayer) Play(context.Context, Clip) error { return nil }
func (NopPlayer) Close() error                     { return nil }
