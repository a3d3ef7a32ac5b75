package fakeassistant

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
)

// DefaultAudio 默认回复音频负载
var DefaultAudio = []byte("ID3\x04fake-mp3-reply")

// Reply describes how the fake answers each recorded utterance.
type Reply struct {
	Transcript string
	Response   string
	Audio      []byte
	// Fail sends the empty binary frame the real backend uses on errors.
	Fail bool
	// Silent answers nothing at all.
	Silent bool
}

func (r Reply) hasMetadata() bool {
	return r.Transcript != "" || r.Response != ""
}

// Options 配置假助手的行为
type Options struct {
	Voices []voice.Voice
	// StringVoices encodes the catalog as bare identifiers.
	StringVoices bool
	// Token, when set, is required as bearer token on every request.
	Token string
	Reply Reply
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// Document is one upload received on /upload-data.
type Document struct {
	Filename string
	Data     []byte
}

// Server is an in-process stand-in for the remote assistant service. It
// speaks the client wire contract with canned payloads and records what it
// receives.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu           sync.Mutex
	reply        Reply
	voices       []voice.Voice
	conns        map[*peer]struct{}
	utterances   [][]byte
	voiceChanges []string
	documents    []Document
	contexts     []string
	authHeaders  []string
	accepted     int
}

// New 创建假助手
func New(opts Options) *Server {
	if len(opts.Voices) == 0 {
		opts.Voices = []voice.Voice{{ID: "alloy", Name: "Alloy"}, {ID: "verse", Name: "Verse"}}
	}
	return &Server{
		opts:   opts,
		reply:  opts.Reply,
		voices: append([]voice.Voice(nil), opts.Voices...),
		conns:  make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetReply changes the answer for subsequent utterances.
func (s *Server) SetReply(reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = reply
}

// SetVoices replaces the catalog served on /voices.
func (s *Server) SetVoices(voices []voice.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append([]voice.Voice(nil), voices...)
}

// Utterances returns the binary frames received so far.
func (s *Server) Utterances() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.utterances))
	for i, u := range s.utterances {
		out[i] = append([]byte(nil), u...)
	}
	return out
}

// VoiceChanges returns the voice identifiers announced so far, in order.
func (s *Server) VoiceChanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voiceChanges...)
}

// Documents returns the uploads received so far.
func (s *Server) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.documents...)
}

// Contexts returns the texts received on /set-context.
func (s *Server) Contexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contexts...)
}

// AuthHeaders returns the Authorization headers seen on audio connections.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders...)
}

// Connections returns the number of currently connected audio clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted returns how many audio connections were accepted in total.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}
