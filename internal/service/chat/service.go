package chat

import (
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/chat"
)

var (
	ErrInvalidRole = errors.New("role must be user or assistant")
	ErrEmptyText   = errors.New("turn text is required")
)

// Service encapsulates the ordered conversation transcript of one client.
type Service struct {
	mu       sync.RWMutex
	turns    []*schema.Message
	onAppend func(*schema.Message)
}

// NewService bootstraps an empty in-memory transcript.
func NewService() *Service {
	return &Service{
		turns: make([]*schema.Message, 0, 16),
	}
}

// OnAppend 注册追加回调，回调在锁外执行
func (s *Service) OnAppend(fn func(*schema.Message)) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// Append adds one turn to the end of the transcript.
func (s *Service) Append(role schema.RoleType, text string) (*schema.Message, error) {
	if !chat.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	turn := chat.NewTurn(role, text)

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	hook := s.onAppend
	s.mu.Unlock()

	if hook != nil {
		hook(chat.Clone(turn))
	}
	return chat.Clone(turn), nil
}

// AppendUser records an utterance spoken by the user.
func (s *Service) AppendUser(text string) error {
	_, err := s.Append(schema.User, text)
	return err
}

// AppendAssistant records a reply produced by the assistant.
func (s *Service) AppendAssistant(text string) error {
	_, err := s.Append(schema.Assistant, text)
	return err
}

// Transcript returns a copy of the stored turns in append order.
func (s *Service) Transcript() []*schema.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]*schema.Message, len(s.turns))
	for i, turn := range s.turns {
		copied[i] = chat.Clone(turn)
	}
	return copied
}

// Len returns the number of stored turns.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset 清空记录，用于登出
func (s *Service) Reset() {
	s.mu.Lock()
	s.turns = make([]*schema.Message, 0, 16)
	s.mu.Unlock()
}
