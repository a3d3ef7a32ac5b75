package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// FileSource replays a pre-recorded file as the captured utterance.
type FileSource struct {
	path string

	mu      sync.Mutex
	started bool
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// FileFactory returns a Factory creating one FileSource per turn.
func FileFactory(path string) Factory {
	return FactoryFunc(func(context.Context) (Source, error) {
		return NewFileSource(path), nil
	})
}

func (s *FileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("capture file %s is a directory", s.path)
	}
	s.started = true
	return nil
}

func (s *FileSource) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	s.started = false

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read capture file: %w", err)
	}
	return data, nil
}
