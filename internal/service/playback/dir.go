package playback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/echocat/slf4g"
)

// DirPlayer writes the latest reply into a directory so an external tool can
// pick it up. Each clip overwrites the previous one.
type DirPlayer struct {
	dir string

	mu   sync.Mutex
	last string
}

func NewDirPlayer(dir string) (*DirPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create playback dir: %w", err)
	}
	return &DirPlayer{dir: dir}, nil
}

func (p *DirPlayer) Play(_ context.Context, clip Clip) error {
	if len(clip.Data) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	path := filepath.Join(p.dir, "latest-reply"+clip.Extension())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, clip.Data, 0o644); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	p.last = path
	log.With("path", path).With("bytes", len(clip.Data)).Debug("reply written")
	return nil
}

// LastPath returns the file written by the most recent Play.
func (p *DirPlayer) LastPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *DirPlayer) Close() error { return nil }
