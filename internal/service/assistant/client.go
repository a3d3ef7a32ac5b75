package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	log "github.com/echocat/slf4g"

	model "github.com/zhouzirui/z-tavern/voiceclient/internal/model/assistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultAudioPath      = "/ws/audio"

	maxErrorBody = 4 << 10
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrInvalidBaseURL   = errors.New("assistant base URL must use http or https")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
	// Message is the "error" field of a JSON error body, when present.
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("assistant returned %d: %s", e.StatusCode, e.Message)
	}
	if e.Body == "" {
		return fmt.Sprintf("assistant returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("assistant returned %d: %s", e.StatusCode, e.Body)
}

// Client 助手后端的一次性HTTP请求客户端：声音目录、文档上传与上下文设置
type Client struct {
	baseURL   *url.URL
	audioPath string
	http      *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAudioPath overrides the websocket endpoint path.
func WithAudioPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.audioPath = p
		}
	}
}

// NewHTTPClient builds an HTTP client with connect and overall timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// NewClient 创建助手客户端
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse assistant base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidBaseURL
	}
	if u.Host == "" {
		return nil, fmt.Errorf("assistant base URL %q has no host", baseURL)
	}

	c := &Client{
		baseURL:   u,
		audioPath: DefaultAudioPath,
		http:      NewHTTPClient(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// AudioURL returns the websocket endpoint of the audio session.
func (c *Client) AudioURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join("/", u.Path, c.audioPath)
	return u.String()
}

// FetchVoices loads the voice catalog.
func (c *Client) FetchVoices(ctx context.Context, token string) (voice.Catalog, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/voices", token, nil)
	if err != nil {
		return voice.Catalog{}, err
	}

	var catalog voice.Catalog
	if err := c.do(req, &catalog); err != nil {
		return voice.Catalog{}, fmt.Errorf("fetch voices: %w", err)
	}
	log.With("count", len(catalog.Voices)).Debug("voice catalog loaded")
	return catalog, nil
}

// UploadDocument sends one reference document as multipart field "file".
func (c *Client) UploadDocument(ctx context.Context, token, filename string, r io.Reader) error {
	if r == nil {
		return errors.New("document reader is required")
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(model.UploadField, filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload-data", token, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp model.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	if !resp.Uploaded() {
		return fmt.Errorf("upload document: %w: status %q", ErrUnexpectedStatus, resp.Status)
	}
	log.With("file", filename).Info("document uploaded")
	return nil
}

// SetContext sends pasted text as assistant context.
func (c *Client) SetContext(ctx context.Context, token, text string) error {
	payload, err := json.Marshal(model.ContextRequest{Text: text})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/set-context", token, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp model.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	if !resp.ContextSet() {
		return fmt.Errorf("set context: %w: status %q", ErrUnexpectedStatus, resp.Status)
	}
	log.With("chars", len(text)).Info("context set")
	return nil
}

// Health probes the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	var resp model.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.Status != model.StatusOK {
		return fmt.Errorf("health check: %w: status %q", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, token string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, endpoint)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		var errResp model.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
