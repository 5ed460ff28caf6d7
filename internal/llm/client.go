package llm

import (
	"context"
	"errors"
)

// Request is one inference call. Image, when set, holds already-decoded media
// bytes for multimodal models.
type Request struct {
	SystemPrompt string
	Prompt       string
	Image        []byte
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Failure classes. Callers branch on these with errors.Is: unavailable and
// exhausted are transient and may be retried, malformed never is, timeout is
// its own terminal state.
var (
	ErrUnavailable = errors.New("llm: backend unavailable")
	ErrExhausted   = errors.New("llm: backend overloaded")
	ErrMalformed   = errors.New("llm: malformed request")
	ErrTimeout     = errors.New("llm: request timed out")
)

// IsTransient reports whether a failed call may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrExhausted) || errors.Is(err, ErrTimeout)
}

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Pinger is implemented by clients that can cheaply probe backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
