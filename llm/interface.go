package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrUnauthorized  = errors.New("unauthorized: invalid API key")
	ErrRateLimited   = errors.New("rate limited by completion API")
	ErrUpstream      = errors.New("completion API error")
	ErrEmptyResponse = errors.New("no content returned from completion API")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request. Zero values fall back
// to the client's configured defaults.
type Request struct {
	System      string
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	JSON        bool
	Batch       string
}

type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Stream yields text fragments in arrival order. Recv returns io.EOF once the
// completion is finished.
type Stream interface {
	Recv() (string, error)
	Close() error
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// IsAPIError reports whether err came from the completion provider rather than
// from local processing.
func IsAPIError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrEmptyResponse)
}

// lastUserContent is what usage records log as the prompt.
func lastUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
