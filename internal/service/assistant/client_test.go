package assistant_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/fakeassistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/assistant"
)

func newClient(t *testing.T, opts fakeassistant.Options) (*assistant.Client, *fakeassistant.Server) {
	t.Helper()
	fake := fakeassistant.New(opts)
	ts := httptest.NewServer(fake.Handler())
	t.Cleanup(ts.Close)

	c, err := assistant.NewClient(ts.URL + "/")
	require.NoError(t, err)
	return c, fake
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := assistant.NewClient("ftp://example.com")
	assert.ErrorIs(t, err, assistant.ErrInvalidBaseURL)

	_, err = assistant.NewClient("http://")
	assert.Error(t, err)
}

func TestAudioURL(t *testing.T) {
	c, err := assistant.NewClient("https://coach.example.com/api")
	require.NoError(t, err)
	assert.Equal(t, "wss://coach.example.com/api/ws/audio", c.AudioURL())

	c, err = assistant.NewClient("http://localhost:8000", assistant.WithAudioPath("/stream"))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/stream", c.AudioURL())
}

func TestFetchVoices(t *testing.T) {
	c, _ := newClient(t, fakeassistant.Options{StringVoices: true, Token: "tok"})

	catalog, err := c.FetchVoices(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"alloy", "verse"}, catalog.IDs())
	assert.Equal(t, "alloy", catalog.Default())

	_, err = c.FetchVoices(context.Background(), "wrong")
	var apiErr *assistant.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid or missing token")
	assert.Equal(t, "invalid or missing token", apiErr.Message)
}

func TestUploadDocument(t *testing.T) {
	c, fake := newClient(t, fakeassistant.Options{})

	err := c.UploadDocument(context.Background(), "", "sleep-diary.txt", strings.NewReader("woke at 3am"))
	require.NoError(t, err)

	docs := fake.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "sleep-diary.txt", docs[0].Filename)
	assert.Equal(t, "woke at 3am", string(docs[0].Data))
}

func TestSetContext(t *testing.T) {
	c, fake := newClient(t, fakeassistant.Options{})

	require.NoError(t, c.SetContext(context.Background(), "", "I work night shifts."))
	assert.Equal(t, []string{"I work night shifts."}, fake.Contexts())

	var apiErr *assistant.APIError
	require.ErrorAs(t, c.SetContext(context.Background(), "", ""), &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "text is required", apiErr.Message)
	assert.Equal(t, "assistant returned 400: text is required", apiErr.Error())
}

func TestUnexpectedStatusBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer ts.Close()

	c, err := assistant.NewClient(ts.URL)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetContext(context.Background(), "", "x"), assistant.ErrUnexpectedStatus)
	assert.ErrorIs(t, c.UploadDocument(context.Background(), "", "a.txt", strings.NewReader("x")), assistant.ErrUnexpectedStatus)
	assert.ErrorIs(t, c.Health(context.Background()), assistant.ErrUnexpectedStatus)
}

func TestUndecodableBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer ts.Close()

	c, err := assistant.NewClient(ts.URL)
	require.NoError(t, err)
	_, err = c.FetchVoices(context.Background(), "")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	c, _ := newClient(t, fakeassistant.Options{})
	assert.NoError(t, c.Health(context.Background()))
}
