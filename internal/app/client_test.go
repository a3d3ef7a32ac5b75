package app

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/fakeassistant"
	modelchat "github.com/zhouzirui/z-tavern/voiceclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/assistant"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/capture"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/notify"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
)

type notices struct {
	mu   sync.Mutex
	list []string
}

func (n *notices) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, message)
}

func (n *notices) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.list...)
}

type harness struct {
	client  *Client
	fake    *fakeassistant.Server
	notices *notices
}

func newHarness(t *testing.T, opts fakeassistant.Options, token string) *harness {
	t.Helper()
	fake := fakeassistant.New(opts)
	ts := httptest.NewServer(fake.Handler())
	t.Cleanup(ts.Close)

	backend, err := assistant.NewClient(ts.URL)
	require.NoError(t, err)

	recording := filepath.Join(t.TempDir(), "utterance.wav")
	require.NoError(t, os.WriteFile(recording, []byte("RIFF-utterance"), 0o600))

	n := &notices{}
	c, err := New(Options{
		Identity: identity.NewStaticProvider(token, "Tester"),
		Backend:  backend,
		AudioURL: backend.AudioURL(),
		Captures: capture.FileFactory(recording),
		Notifier: n,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &harness{client: c, fake: fake, notices: n}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestLoadVoicesSelectsFirstEntry(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{StringVoices: true}, "tok")
	ctx := context.Background()

	catalog, err := h.client.LoadVoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alloy", "verse"}, catalog.IDs())
	assert.Equal(t, "alloy", h.client.VoiceID())

	h.fake.SetVoices(nil)
	_, err = h.client.LoadVoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", h.client.VoiceID())
	assert.Empty(t, h.notices.all())
}

func TestLoadVoicesFailureNotifies(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{Token: "expected"}, "other")
	_, err := h.client.LoadVoices(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{notify.VoicesFailed}, h.notices.all())
}

func TestSignInFailureDoesNotNotify(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "")
	_, err := h.client.SignIn(context.Background())
	assert.ErrorIs(t, err, identity.ErrSignInFailed)
	assert.Equal(t, session.StateClosed, h.client.SessionState())
	assert.Empty(t, h.notices.all())
	_, ok := h.client.User()
	assert.False(t, ok)
}

func TestVoiceSelectionIsAnnounced(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{Token: "tok"}, "tok")
	ctx := context.Background()

	_, err := h.client.SignIn(ctx)
	require.NoError(t, err)
	_, err = h.client.LoadVoices(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, h.client.SelectVoice("nope"), ErrUnknownVoice)
	require.NoError(t, h.client.SelectVoice("verse"))
	assert.Equal(t, "verse", h.client.VoiceID())

	require.Eventually(t, func() bool { return len(h.fake.VoiceChanges()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alloy", "verse"}, h.fake.VoiceChanges())
}

func TestEmptyCatalogForgetsAnnouncedVoice(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	_, err := h.client.SignIn(ctx)
	require.NoError(t, err)
	_, err = h.client.LoadVoices(ctx)
	require.NoError(t, err)
	require.NoError(t, h.client.SelectVoice("verse"))
	require.Eventually(t, func() bool { return len(h.fake.VoiceChanges()) == 2 }, 2*time.Second, 10*time.Millisecond)

	h.fake.SetVoices(nil)
	_, err = h.client.LoadVoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", h.client.VoiceID())

	require.NoError(t, h.client.SignOut())
	_, err = h.client.SignIn(ctx)
	require.NoError(t, err)

	// an announce frame would precede this utterance on the new connection
	require.NoError(t, h.client.StartTurn(ctx))
	require.NoError(t, h.client.StopTurn(ctx))
	require.Eventually(t, func() bool { return len(h.fake.Utterances()) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"alloy", "verse"}, h.fake.VoiceChanges())
}

func TestReloadedCatalogReplacesDroppedVoice(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	_, err := h.client.LoadVoices(ctx)
	require.NoError(t, err)
	require.NoError(t, h.client.SelectVoice("verse"))

	h.fake.SetVoices([]voice.Voice{{ID: "ember", Name: "Ember"}})
	_, err = h.client.LoadVoices(ctx)
	require.NoError(t, err)

	_, err = h.client.SignIn(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.fake.VoiceChanges()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ember"}, h.fake.VoiceChanges())
	assert.Equal(t, "ember", h.client.VoiceID())
}

func TestTurnWhileOpenSendsOneFrameAndOneUserTurn(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	_, err := h.client.SignIn(ctx)
	require.NoError(t, err)

	recording, err := h.client.ToggleTurn(ctx)
	require.NoError(t, err)
	assert.True(t, recording)
	recording, err = h.client.ToggleTurn(ctx)
	require.NoError(t, err)
	assert.False(t, recording)

	require.Eventually(t, func() bool { return len(h.fake.Utterances()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "RIFF-utterance", string(h.fake.Utterances()[0]))

	// the reply carries no text, so no assistant turn follows
	time.Sleep(100 * time.Millisecond)
	turns := h.client.Transcript()
	require.Len(t, turns, 1)
	assert.Equal(t, schema.User, turns[0].Role)
	assert.Equal(t, modelchat.PlaceholderUtterance, turns[0].Content)
}

func TestReplyTextBecomesAssistantTurn(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{
		Reply: fakeassistant.Reply{Transcript: "hello", Response: "Hi! How did you sleep?"},
	}, "tok")
	ctx := context.Background()

	_, err := h.client.SignIn(ctx)
	require.NoError(t, err)
	require.NoError(t, h.client.StartTurn(ctx))
	require.NoError(t, h.client.StopTurn(ctx))

	require.Eventually(t, func() bool { return len(h.client.Transcript()) == 2 }, 2*time.Second, 10*time.Millisecond)
	turns := h.client.Transcript()
	assert.Equal(t, schema.User, turns[0].Role)
	assert.Equal(t, schema.Assistant, turns[1].Role)
	assert.Equal(t, "Hi! How did you sleep?", turns[1].Content)
}

func TestTurnWithoutSessionNotifies(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	require.NoError(t, h.client.StartTurn(ctx))
	assert.ErrorIs(t, h.client.StopTurn(ctx), session.ErrChannelNotOpen)
	assert.Equal(t, []string{notify.NotConnected}, h.notices.all())
	assert.Len(t, h.client.Transcript(), 1)
}

func TestUploadAndContextNotifications(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	require.NoError(t, h.client.UploadDocument(ctx, "diary.txt", strings.NewReader("slept 5h")))
	require.NoError(t, h.client.SetContext(ctx, "Prefers short answers."))
	require.NoError(t, h.client.SetContext(ctx, "   "))

	assert.Equal(t, []string{notify.FileUploaded, notify.ContextSet}, h.notices.all())
	assert.Equal(t, []string{"Prefers short answers."}, h.fake.Contexts())
	require.Len(t, h.fake.Documents(), 1)
	assert.Equal(t, "diary.txt", h.fake.Documents()[0].Filename)
}

func TestUploadFile(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte("# plan"), 0o600))

	require.NoError(t, h.client.UploadFile(context.Background(), path))
	assert.Equal(t, "plan.md", h.fake.Documents()[0].Filename)

	assert.Error(t, h.client.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, []string{notify.FileUploaded, notify.UploadFailed}, h.notices.all())
}

type failingBackend struct{}

func (failingBackend) FetchVoices(context.Context, string) (voice.Catalog, error) {
	return voice.Catalog{}, errors.New("down")
}

func (failingBackend) UploadDocument(context.Context, string, string, io.Reader) error {
	return errors.New("down")
}

func (failingBackend) SetContext(context.Context, string, string) error { return errors.New("down") }

func (failingBackend) Health(context.Context) error { return errors.New("down") }

func TestOneShotFailureNotifications(t *testing.T) {
	n := &notices{}
	c, err := New(Options{
		Identity: identity.NewStaticProvider("tok", ""),
		Backend:  failingBackend{},
		AudioURL: "ws://127.0.0.1:1/ws/audio",
		Notifier: n,
	})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	assert.Error(t, c.UploadDocument(ctx, "a.txt", strings.NewReader("x")))
	assert.Error(t, c.SetContext(ctx, "x"))
	assert.Error(t, c.Health(ctx))
	assert.Equal(t, []string{notify.UploadFailed, notify.ContextFailed}, n.all())
}

func TestSignOutResetsClient(t *testing.T) {
	h := newHarness(t, fakeassistant.Options{}, "tok")
	ctx := context.Background()

	user, err := h.client.SignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tester", user.DisplayName)
	require.NoError(t, h.client.StartTurn(ctx))
	require.NoError(t, h.client.StopTurn(ctx))
	require.NotEmpty(t, h.client.Transcript())

	require.NoError(t, h.client.StartTurn(ctx))
	require.NoError(t, h.client.SignOut())

	assert.False(t, h.client.Recording())
	assert.Empty(t, h.client.Transcript())
	assert.Equal(t, session.StateClosed, h.client.SessionState())
	_, ok := h.client.User()
	assert.False(t, ok)
	require.Eventually(t, func() bool { return h.fake.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
