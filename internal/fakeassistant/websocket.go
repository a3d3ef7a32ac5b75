package fakeassistant

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	log "github.com/echocat/slf4g"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/assistant"
)

// ErrNoClients is returned by Push when no audio client is connected.
var ErrNoClients = errors.New("no audio client connected")

const writeTimeout = 5 * time.Second

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(messageType, data)
}

// handleAudio 处理音频WebSocket连接
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	p := &peer{conn: conn}

	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.accepted++
	s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, p)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	log.With("remote", r.RemoteAddr).Info("audio client connected")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("audio client read error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.handleControl(data)
		case websocket.BinaryMessage:
			if err := s.handleUtterance(p, data); err != nil {
				log.WithError(err).Warn("failed to answer utterance")
				return
			}
		}
	}
}

func (s *Server) handleControl(data []byte) {
	var msg assistant.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.VoiceID == "" {
		log.With("payload", string(data)).Debug("unsupported control frame")
		return
	}
	s.mu.Lock()
	s.voiceChanges = append(s.voiceChanges, msg.VoiceID)
	s.mu.Unlock()
	log.With("voice", msg.VoiceID).Info("voice changed")
}

func (s *Server) handleUtterance(p *peer, data []byte) error {
	s.mu.Lock()
	s.utterances = append(s.utterances, append([]byte(nil), data...))
	reply := s.reply
	s.mu.Unlock()

	log.With("bytes", len(data)).Info("utterance received")

	switch {
	case reply.Silent:
		return nil
	case reply.Fail:
		return p.write(websocket.BinaryMessage, []byte{})
	}

	if reply.hasMetadata() {
		payload, err := json.Marshal(assistant.ReplyMetadata{Transcript: reply.Transcript, Response: reply.Response})
		if err != nil {
			return err
		}
		if err := p.write(websocket.TextMessage, payload); err != nil {
			return err
		}
	}
	audio := reply.Audio
	if audio == nil {
		audio = DefaultAudio
	}
	return p.write(websocket.BinaryMessage, audio)
}

// Push sends one frame to every connected audio client.
func (s *Server) Push(messageType int, data []byte) error {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if len(peers) == 0 {
		return ErrNoClients
	}
	var errs []error
	for _, p := range peers {
		if err := p.write(messageType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropConnections closes every audio connection without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}
