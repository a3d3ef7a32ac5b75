package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/cloudwego/eino/schema"
	log "github.com/echocat/slf4g"

	"github.com/zhouzirui/z-tavern/voiceclient/internal/model/voice"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/identity"
	"github.com/zhouzirui/z-tavern/voiceclient/internal/service/session"
)

const (
	prompt         = "voice> "
	recordPrompt   = "voice (recording)> "
	continuePrompt = "...   "
	blockEnd       = "."
)

// Backend is the client surface the console drives.
type Backend interface {
	SignIn(ctx context.Context) (identity.User, error)
	SignOut() error
	User() (identity.User, bool)
	LoadVoices(ctx context.Context) (voice.Catalog, error)
	Voices() voice.Catalog
	SelectVoice(id string) error
	VoiceID() string
	ToggleTurn(ctx context.Context) (bool, error)
	Recording() bool
	UploadFile(ctx context.Context, path string) error
	SetContext(ctx context.Context, text string) error
	Transcript() []*schema.Message
	SessionState() session.State
	Health(ctx context.Context) error
}

// Console 交互式终端前端
type Console struct {
	backend   Backend
	readLine  func() (string, error)
	setPrompt func(string)

	mu  sync.Mutex
	out io.Writer
}

// New creates a console writing to out.
func New(backend Backend, out io.Writer) *Console {
	return &Console{backend: backend, out: out, setPrompt: func(string) {}}
}

// Notice prints a transient notification line.
func (c *Console) Notice(message string) {
	c.printf("* %s\n", message)
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("could not open terminal: %w", err)
	}
	defer func() {
		_ = l.Close()
	}()

	c.mu.Lock()
	c.out = l.Stdout()
	c.mu.Unlock()
	c.readLine = l.Readline
	c.setPrompt = l.SetPrompt

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	c.println("Type 'help' for commands.")
	for {
		line, err := l.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		quit, err := c.Execute(ctx, line)
		if err != nil {
			c.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
		if c.backend.Recording() {
			l.SetPrompt(recordPrompt)
		} else {
			l.SetPrompt(prompt)
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd {
	case "help", "?":
		c.help()
	case "signin", "login":
		return false, c.signIn(ctx)
	case "signout", "logout":
		if err := c.backend.SignOut(); err != nil {
			return false, err
		}
		c.println("Signed out.")
	case "voices":
		return false, c.voices(ctx)
	case "voice":
		if args == "" {
			c.printf("Current voice: %s\n", orNone(c.backend.VoiceID()))
			return false, nil
		}
		if err := c.backend.SelectVoice(args); err != nil {
			return false, err
		}
		c.printf("Voice set to %s.\n", args)
	case "record", "r":
		recording, err := c.backend.ToggleTurn(ctx)
		if err != nil {
			return false, err
		}
		if recording {
			c.println("Recording... type 'record' again to send.")
		} else {
			c.println("Sent.")
		}
	case "upload":
		if args == "" {
			return false, errors.New("usage: upload <path>")
		}
		return false, c.backend.UploadFile(ctx, args)
	case "context":
		return false, c.context(ctx, args)
	case "transcript", "history":
		c.transcript()
	case "status":
		c.status(ctx)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return false, nil
}

func (c *Console) help() {
	c.println(`Commands:
  signin            sign in and connect to the assistant
  signout           disconnect and forget the user
  voices            reload the voice catalog
  voice [id]        show or select the voice
  record            start recording, run again to send
  upload <path>     upload a reference document
  context [text]    set context text; without text, end input with a single "."
  transcript        show the conversation
  status            show connection details
  quit              exit`)
}

func (c *Console) signIn(ctx context.Context) error {
	user, err := c.backend.SignIn(ctx)
	if user.Valid() {
		c.printf("Signed in as %s.\n", user.DisplayName)
	}
	if err != nil {
		return err
	}
	return c.voices(ctx)
}

func (c *Console) voices(ctx context.Context) error {
	catalog, err := c.backend.LoadVoices(ctx)
	if err != nil {
		return err
	}
	if len(catalog.Voices) == 0 {
		c.println("No voices available.")
		return nil
	}
	selected := c.backend.VoiceID()
	for _, v := range catalog.Voices {
		marker := " "
		if v.ID == selected {
			marker = "*"
		}
		c.printf("%s %s\n", marker, v.Label())
	}
	return nil
}

func (c *Console) context(ctx context.Context, text string) error {
	if text == "" {
		block, err := c.readBlock()
		if err != nil {
			return err
		}
		text = block
	}
	if strings.TrimSpace(text) == "" {
		c.println("Nothing to send.")
		return nil
	}
	return c.backend.SetContext(ctx, text)
}

// readBlock 读取多行输入，直到单独一行的 "."
func (c *Console) readBlock() (string, error) {
	if c.readLine == nil {
		return "", errors.New("usage: context <text>")
	}
	c.setPrompt(continuePrompt)
	defer c.setPrompt(prompt)

	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == blockEnd {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func (c *Console) transcript() {
	turns := c.backend.Transcript()
	if len(turns) == 0 {
		c.println("No messages yet.")
		return
	}
	for _, turn := range turns {
		who := "You"
		if turn.Role == schema.Assistant {
			who = "Assistant"
		}
		c.printf("%s: %s\n", who, turn.Content)
	}
}

func (c *Console) status(ctx context.Context) {
	if user, ok := c.backend.User(); ok {
		c.printf("User:      %s\n", user.DisplayName)
	} else {
		c.println("User:      (signed out)")
	}
	c.printf("Session:   %s\n", c.backend.SessionState())
	c.printf("Voice:     %s\n", orNone(c.backend.VoiceID()))
	c.printf("Recording: %t\n", c.backend.Recording())

	health := "ok"
	if err := c.backend.Health(ctx); err != nil {
		log.WithError(err).Debug("health check failed")
		health = "unreachable"
	}
	c.printf("Assistant: %s\n", health)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) println(s string) {
	c.printf("%s\n", s)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
