package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/assistant"
)

// Kind identifies an inbound message variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindAudioReply
	KindReplyMetadata
)

func (k Kind) String() string {
	switch k {
	case KindAudioReply:
		return "audio_reply"
	case KindReplyMetadata:
		return "reply_metadata"
	default:
		return "unknown"
	}
}

// Inbound is one decoded server-to-client message.
type Inbound interface {
	Kind() Kind
}

// AudioReply 二进制帧，承载合成后的回复音频；空负载表示后端处理失败
type AudioReply struct {
	Data []byte
}

func (AudioReply) Kind() Kind { return KindAudioReply }

// ReplyMetadata 回复音频之前的文本帧
type ReplyMetadata struct {
	assistant.ReplyMetadata
}

func (ReplyMetadata) Kind() Kind { return KindReplyMetadata }

// UnknownFrame is any text frame the client does not understand.
type UnknownFrame struct {
	MessageType int
	Raw         []byte
}

func (UnknownFrame) Kind() Kind { return KindUnknown }

func decodeFrame(messageType int, data []byte) Inbound {
	switch messageType {
	case websocket.BinaryMessage:
		return AudioReply{Data: append([]byte(nil), data...)}
	case websocket.TextMessage:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err == nil {
			_, hasTranscript := fields["transcript"]
			_, hasResponse := fields["response"]
			if hasTranscript || hasResponse {
				var meta assistant.ReplyMetadata
				if err := json.Unmarshal(data, &meta); err == nil {
					return ReplyMetadata{ReplyMetadata: meta}
				}
			}
		}
	}
	return UnknownFrame{MessageType: messageType, Raw: append([]byte(nil), data...)}
}

// Handler processes one inbound message on the channel's read goroutine.
type Handler func(ctx context.Context, msg Inbound)

// Router dispatches inbound messages to the handler registered for their kind.
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[Kind]Handler)}
}

// Register binds h to kind, replacing any previous handler.
func (r *Router) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, kind)
		return
	}
	r.handlers[kind] = h
}

// Dispatch runs the handler for msg and reports whether one was registered.
func (r *Router) Dispatch(ctx context.Context, msg Inbound) bool {
	if msg == nil {
		return false
	}
	r.mu.RLock()
	h, ok := r.handlers[msg.Kind()]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h(ctx, msg)
	return true
}
