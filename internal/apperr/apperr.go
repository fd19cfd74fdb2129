// Package apperr carries the error kinds that cross component boundaries.
// Components wrap their failures in an *E so the pipeline and the HTTP layer
// can decide on a response without inspecting error text.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Connectivity means the database, metadata source or model service was unreachable.
	Connectivity Kind = "connectivity"
	// Synthesis means SQL generation failed or the model returned something unusable.
	Synthesis Kind = "synthesis"
	// Validation means a candidate statement or request input was rejected before execution.
	Validation Kind = "validation"
	// Execution means the database rejected a validated statement.
	Execution Kind = "execution"
	// AnswerSynthesis means the final sentence could not be produced. Non-fatal.
	AnswerSynthesis Kind = "answer_synthesis"
	// Timeout means a stage ran past its deadline.
	Timeout Kind = "timeout"
	// Internal covers everything unexpected.
	Internal Kind = "internal"
)

// E wraps an error with a kind and a short message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }
func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }

// WrapCtx wraps err as kind unless err is a deadline expiry, which becomes Timeout.
func WrapCtx(kind Kind, msg string, err error) *E {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	return Wrap(kind, msg, err)
}

// KindOf reports the kind of the outermost *E in the chain. Bare deadline
// errors map to Timeout; anything else unrecognised is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
