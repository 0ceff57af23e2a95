package ai

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse is returned for a 2xx reply without choices or message content.
var ErrInvalidResponse = errors.New("invalid response format from AI service")

// ProviderError is a non-2xx reply. Message is the provider's own error text when it sent one.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
