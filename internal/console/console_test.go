package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
)

type fakeBackend struct {
	user      identity.User
	signedIn  bool
	catalog   voice.Catalog
	voiceID   string
	recording bool
	uploaded  []string
	contexts  []string
	turns     []*schema.Message
	healthErr error
	signInErr error
}

func (f *fakeBackend) SignIn(context.Context) (identity.User, error) {
	if f.signInErr != nil {
		return identity.User{}, f.signInErr
	}
	f.signedIn = true
	return f.user, nil
}

func (f *fakeBackend) SignOut() error {
	f.signedIn = false
	return nil
}

func (f *fakeBackend) User() (identity.User, bool) { return f.user, f.signedIn }

func (f *fakeBackend) LoadVoices(context.Context) (voice.Catalog, error) {
	if f.voiceID == "" {
		f.voiceID = f.catalog.Default()
	}
	return f.catalog, nil
}

func (f *fakeBackend) Voices() voice.Catalog { return f.catalog }

func (f *fakeBackend) SelectVoice(id string) error {
	if !f.catalog.Contains(id) {
		return errors.New("unknown voice")
	}
	f.voiceID = id
	return nil
}

func (f *fakeBackend) VoiceID() string { return f.voiceID }

func (f *fakeBackend) ToggleTurn(context.Context) (bool, error) {
	f.recording = !f.recording
	return f.recording, nil
}

func (f *fakeBackend) Recording() bool { return f.recording }

func (f *fakeBackend) UploadFile(_ context.Context, path string) error {
	f.uploaded = append(f.uploaded, path)
	return nil
}

func (f *fakeBackend) SetContext(_ context.Context, text string) error {
	f.contexts = append(f.contexts, text)
	return nil
}

func (f *fakeBackend) Transcript() []*schema.Message { return f.turns }

func (f *fakeBackend) SessionState() session.State {
	if f.signedIn {
		return session.StateOpen
	}
	return session.StateClosed
}

func (f *fakeBackend) Health(context.Context) error { return f.healthErr }

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user: identity.User{ID: "u1", DisplayName: "Ada"},
		catalog: voice.Catalog{Voices: []voice.Voice{
			{ID: "alloy", Name: "Alloy"},
			{ID: "verse", Name: "Verse"},
		}},
	}
}

func TestExecuteSignInListsVoices(t *testing.T) {
	backend := newFakeBackend()
	var out bytes.Buffer
	c := New(backend, &out)

	quit, err := c.Execute(context.Background(), "signin")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Signed in as Ada.")
	assert.Contains(t, out.String(), "* Alloy (alloy)")
	assert.Equal(t, "alloy", backend.VoiceID())
}

func TestExecuteSignInFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.signInErr = identity.ErrSignInFailed
	c := New(backend, io.Discard)

	_, err := c.Execute(context.Background(), "signin")
	require.ErrorIs(t, err, identity.ErrSignInFailed)
}

func TestExecuteVoiceSelection(t *testing.T) {
	backend := newFakeBackend()
	var out bytes.Buffer
	c := New(backend, &out)
	ctx := context.Background()

	_, err := c.Execute(ctx, "voice verse")
	require.NoError(t, err)
	assert.Equal(t, "verse", backend.voiceID)

	_, err = c.Execute(ctx, "voice nope")
	require.Error(t, err)
	assert.Equal(t, "verse", backend.voiceID)

	out.Reset()
	_, err = c.Execute(ctx, "voice")
	require.NoError(t, err)
	assert.Equal(t, "Current voice: verse\n", out.String())
}

func TestExecuteRecordToggles(t *testing.T) {
	backend := newFakeBackend()
	var out bytes.Buffer
	c := New(backend, &out)
	ctx := context.Background()

	_, err := c.Execute(ctx, "record")
	require.NoError(t, err)
	assert.True(t, backend.recording)

	_, err = c.Execute(ctx, "RECORD")
	require.NoError(t, err)
	assert.False(t, backend.recording)
	assert.Contains(t, out.String(), "Sent.")
}

func TestExecuteUploadAndContext(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, io.Discard)
	ctx := context.Background()

	_, err := c.Execute(ctx, "upload /tmp/notes file.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/notes file.pdf"}, backend.uploaded)

	_, err = c.Execute(ctx, "upload")
	require.Error(t, err)

	_, err = c.Execute(ctx, "context  be brief ")
	require.NoError(t, err)
	assert.Equal(t, []string{"be brief"}, backend.contexts)
}

func TestExecuteContextBlock(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, io.Discard)

	lines := []string{"first line", "second line", "."}
	c.readLine = func() (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}

	_, err := c.Execute(context.Background(), "context")
	require.NoError(t, err)
	assert.Equal(t, []string{"first line\nsecond line"}, backend.contexts)
}

func TestExecuteContextWithoutTerminal(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, io.Discard)

	_, err := c.Execute(context.Background(), "context")
	require.Error(t, err)
	assert.Empty(t, backend.contexts)
}

func TestExecuteTranscript(t *testing.T) {
	backend := newFakeBackend()
	var out bytes.Buffer
	c := New(backend, &out)

	_, err := c.Execute(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "No messages yet.\n", out.String())

	backend.turns = []*schema.Message{
		chat.NewTurn(schema.User, chat.PlaceholderUtterance),
		chat.NewTurn(schema.Assistant, "Hello there"),
	}
	out.Reset()
	_, err = c.Execute(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "You: You spoke a message.\nAssistant: Hello there\n", out.String())
}

func TestExecuteStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.healthErr = errors.New("down")
	var out bytes.Buffer
	c := New(backend, &out)

	_, err := c.Execute(context.Background(), "status")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "(signed out)")
	assert.Contains(t, out.String(), "Session:   CLOSED")
	assert.Contains(t, out.String(), "Assistant: unreachable")
}

func TestExecuteQuitAndUnknown(t *testing.T) {
	c := New(newFakeBackend(), io.Discard)
	ctx := context.Background()

	quit, err := c.Execute(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, quit)

	_, err = c.Execute(ctx, "dance")
	require.Error(t, err)

	quit, err = c.Execute(ctx, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestNotice(t *testing.T) {
	var out bytes.Buffer
	c := New(newFakeBackend(), &out)
	c.Notice("File uploaded!")
	assert.Equal(t, "* File uploaded!\n", out.String())
}
