package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	log "github.com/echocat/slf4g"
)

// DefaultStopTimeout 等待录音进程在中断信号后退出的时长
const DefaultStopTimeout = 2 * time.Second

// CommandSource records by running an external recorder that writes the
// encoded audio to stdout, e.g. `arecord -q -f cd -t wav -`.
type CommandSource struct {
	name        string
	args        []string
	stopTimeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan error
}

// NewCommandSource prepares a recorder from a shell-style command line.
func NewCommandSource(commandLine string) (*CommandSource, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("capture command is required")
	}
	return &CommandSource{
		name:        fields[0],
		args:        fields[1:],
		stopTimeout: DefaultStopTimeout,
	}, nil
}

// CommandFactory returns a Factory creating one CommandSource per turn.
func CommandFactory(commandLine string) Factory {
	return FactoryFunc(func(context.Context) (Source, error) {
		return NewCommandSource(commandLine)
	})
}

func (s *CommandSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return ErrAlreadyStarted
	}
	if _, err := exec.LookPath(s.name); err != nil {
		return fmt.Errorf("recorder %q not found: %w", s.name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(s.name, s.args...)
	s.stdout.Reset()
	s.stderr.Reset()
	cmd.Stdout = &s.stdout
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	s.cmd = cmd
	s.done = done
	log.With("command", s.name).Debug("recorder started")
	return nil
}

func (s *CommandSource) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil, ErrNotStarted
	}
	cmd, done := s.cmd, s.done
	s.cmd, s.done = nil, nil

	interrupted := false
	var waitErr error
	select {
	case waitErr = <-done:
		// recorder finished on its own (fixed-duration command)
	default:
		interrupted = true
		if err := interrupt(cmd); err != nil {
			_ = cmd.Process.Kill()
		}
		select {
		case waitErr = <-done:
		case <-time.After(s.stopTimeout):
			_ = cmd.Process.Kill()
			waitErr = <-done
		}
	}

	// 被中断的录音进程通常以非零状态退出，只要有输出就视为成功
	if waitErr != nil && !(interrupted && s.stdout.Len() > 0) {
		return nil, fmt.Errorf("recorder failed: %w: %s", waitErr, strings.TrimSpace(s.stderr.String()))
	}

	data := make([]byte, s.stdout.Len())
	copy(data, s.stdout.Bytes())
	log.With("bytes", len(data)).Debug("recorder stopped")
	return data, nil
}

func interrupt(cmd *exec.Cmd) error {
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
