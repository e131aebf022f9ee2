package llm

import (
	"errors"
	"fmt"
)

// ErrGenerationTimeout is returned when the model call exceeded its own
// deadline. Distinct from upstream failures so callers can report it as a
// timeout rather than a generation fault.
var ErrGenerationTimeout = errors.New("generation timed out")

// GenerationError wraps an upstream model failure with the provider detail
type GenerationError struct {
	Provider ProviderType
	Detail   string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %s", e.Provider, e.Detail)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
