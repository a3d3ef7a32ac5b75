package assistant

// ContextRequest 设置上下文请求
type ContextRequest struct {
	Text string `json:"text"`
}

// ControlMessage 通过音频通道发送的控制消息，目前只携带声音选择
type ControlMessage struct {
	VoiceID string `json:"voice_id"`
}

// UploadField is the multipart form field carrying the document.
const UploadField = "file"
