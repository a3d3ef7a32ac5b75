package capture

import (
	"context"
	"errors"
)

var (
	ErrNotStarted     = errors.New("capture not started")
	ErrAlreadyStarted = errors.New("capture already started")
)

// Source records one utterance. Start begins recording and Stop finalizes it
// into a single encoded payload.
type Source interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
}

// Factory hands out a fresh Source per recording turn.
type Factory interface {
	NewSource(ctx context.Context) (Source, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Source, error)

func (f FactoryFunc) NewSource(ctx context.Context) (Source, error) {
	return f(ctx)
}
