package fakeassistant

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	log "github.com/echocat/slf4g"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/assistant"
	"github.com/zhouzirui/z-tavern/voiceclient/pkg/utils"
)

const maxUploadSize = 32 << 20

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, assistant.StatusResponse{Status: assistant.StatusOK})
}

// handleVoices 返回声音目录
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	voices := make([]any, 0, len(s.voices))
	for _, v := range s.voices {
		if s.opts.StringVoices {
			voices = append(voices, v.ID)
		} else {
			voices = append(voices, v)
		}
	}
	s.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

// handleUpload 接收参考文档
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(assistant.UploadField)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	s.mu.Lock()
	s.documents = append(s.documents, Document{Filename: header.Filename, Data: data})
	s.mu.Unlock()

	log.With("file", header.Filename).With("bytes", len(data)).Info("document uploaded")
	utils.RespondJSON(w, http.StatusOK, assistant.StatusResponse{Status: assistant.StatusUploaded})
}

// handleSetContext 接收上下文文本
func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	var req assistant.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.mu.Lock()
	s.contexts = append(s.contexts, req.Text)
	s.mu.Unlock()

	log.With("chars", len(req.Text)).Info("context set")
	utils.RespondJSON(w, http.StatusOK, assistant.StatusResponse{Status: assistant.StatusContextSet})
}
