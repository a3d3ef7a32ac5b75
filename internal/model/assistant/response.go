package assistant

const (
	StatusUploaded   = "uploaded"
	StatusContextSet = "context set"
	StatusOK         = "ok"
)

// StatusResponse 一次性请求的通用响应
type StatusResponse struct {
	Status string `json:"status"`
}

// Uploaded reports whether the upload endpoint accepted the document.
func (r StatusResponse) Uploaded() bool {
	return r.Status == StatusUploaded
}

// ContextSet reports whether the set-context endpoint accepted the text.
func (r StatusResponse) ContextSet() bool {
	return r.Status == StatusContextSet
}

// ReplyMetadata 后端在回复音频之前发送的文本帧
type ReplyMetadata struct {
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
}

// ErrorResponse matches the {"error": "..."} body used for failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
