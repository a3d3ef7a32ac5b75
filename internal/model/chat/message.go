package chat

import (
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// PlaceholderUtterance 录音结束后本地写入的用户发言占位文本，真实识别结果只在后端产生
const PlaceholderUtterance = "You spoke a message."

const (
	extraTurnID    = "turn_id"
	extraCreatedAt = "created_at"
)

// NewTurn builds a transcript turn stamped with a fresh identifier.
func NewTurn(role schema.RoleType, text string) *schema.Message {
	msg := &schema.Message{
		Role:    role,
		Content: text,
		Extra: map[string]any{
			extraTurnID:    uuid.NewString(),
			extraCreatedAt: time.Now().UTC(),
		},
	}
	return msg
}

// ValidRole 只接受 user 与 assistant 两种发言方
func ValidRole(role schema.RoleType) bool {
	return role == schema.User || role == schema.Assistant
}

// TurnID returns the identifier assigned by NewTurn, or "" for foreign messages.
func TurnID(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	id, _ := msg.Extra[extraTurnID].(string)
	return id
}

// TurnTime returns the creation time assigned by NewTurn.
func TurnTime(msg *schema.Message) time.Time {
	if msg == nil {
		return time.Time{}
	}
	ts, _ := msg.Extra[extraCreatedAt].(time.Time)
	return ts
}

// Clone 复制一条记录，避免调用方修改内部状态
func Clone(msg *schema.Message) *schema.Message {
	if msg == nil {
		return nil
	}
	copied := *msg
	if msg.Extra != nil {
		copied.Extra = make(map[string]any, len(msg.Extra))
		for k, v := range msg.Extra {
			copied.Extra[k] = v
		}
	}
	return &copied
}
