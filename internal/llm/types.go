package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical/paper-whisperer/internal/domain"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single text turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral completion request. Images are local file paths
// that providers attach to the last user message.
type Request struct {
	Model       string
	Messages    []Message
	Images      []string
	Temperature float32
	MaxTokens   int
}

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderError is the single error surface of every provider failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrorType classifies provider failures in the domain taxonomy.
func (e *ProviderError) ErrorType() domain.ErrorType {
	return domain.ErrorTypeProvider
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
