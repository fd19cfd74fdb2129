package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(Execution, "execute statement", errors.New("column does not exist")))
	if got := KindOf(err); got != Execution {
		t.Fatalf("KindOf() = %q, want %q", got, Execution)
	}
	if !Is(err, Execution) {
		t.Fatal("Is(Execution) = false")
	}
}

func TestKindOfDefaults(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q", got)
	}
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("KindOf(plain) = %q", got)
	}
	if got := KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)); got != Timeout {
		t.Fatalf("KindOf(deadline) = %q", got)
	}
}

func TestWrapCtxPromotesDeadlineToTimeout(t *testing.T) {
	err := WrapCtx(Synthesis, "complete", fmt.Errorf("post: %w", context.DeadlineExceeded))
	if err.Kind != Timeout {
		t.Fatalf("Kind = %q, want %q", err.Kind, Timeout)
	}
	err = WrapCtx(Synthesis, "complete", errors.New("503"))
	if err.Kind != Synthesis {
		t.Fatalf("Kind = %q, want %q", err.Kind, Synthesis)
	}
}

func TestErrorMessage(t *testing.T) {
	if got := New(Validation, "empty statement").Error(); got != "validation: empty statement" {
		t.Fatalf("Error() = %q", got)
	}
}
