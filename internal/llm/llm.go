// Package llm holds the clients for the embedding and completion services.
package llm

import (
	"context"
	"fmt"
)

type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StatusError is returned when the model service answers with a non-2xx code.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed status=%d body=%s", e.Operation, e.StatusCode, e.Body)
}
