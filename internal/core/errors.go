package core

import (
	"errors"
	"fmt"

	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	// ErrUpstreamUnavailable is the gateway sentinel, so provider errors match it directly.
	ErrUpstreamUnavailable = llm.ErrUpstreamUnavailable
	ErrPersistence         = errors.New("persistence failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// fromStore lifts store sentinels onto the service taxonomy.
func fromStore(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
