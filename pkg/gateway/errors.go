package gateway

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable means no provider is configured for the requested capability.
var ErrProviderUnavailable = errors.New("no model provider available")

// GenerationError reports a provider that ran and failed.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
