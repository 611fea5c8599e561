package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestWrapTagsAndChains(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrExecution, "archive", "write zip", "cannot stage artifact", cause)

	if !errors.Is(err, ErrExecution) {
		t.Fatal("expected execution marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay in the chain")
	}
	want := "execution failure: archive: write zip: cannot stage artifact: disk full"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatal("nil marker should fall back to transient")
	}
	if Details(err) != "service failure" {
		t.Fatalf("details = %q", Details(err))
	}
}

func TestClassifiers(t *testing.T) {
	if !IsPremise(Wrap(ErrPremise, "ocr", "premise", "no pages staged", nil)) {
		t.Fatal("expected premise classification")
	}
	if !IsCanceled(Wrap(ErrCanceled, "pool", "execute", "job canceled", nil)) {
		t.Fatal("expected canceled classification")
	}
	if !IsCanceled(fmt.Errorf("walk: %w", context.Canceled)) {
		t.Fatal("context.Canceled should classify as canceled")
	}
	if !IsFatal(Wrap(ErrConfiguration, "daemon", "start", "bad socket path", nil)) {
		t.Fatal("expected configuration errors to be fatal")
	}
	if IsFatal(Wrap(ErrExecution, "step", "run", "provider failed", nil)) {
		t.Fatal("execution failures must not be fatal")
	}
}

func TestDetailsStripsMarkerPrefix(t *testing.T) {
	err := Wrap(ErrValidation, "workflow", "resolve", "unknown processor", nil)
	if got := Details(err); got != "workflow: resolve: unknown processor" {
		t.Fatalf("details = %q", got)
	}
	plain := errors.New("untagged failure")
	if got := Details(plain); got != "untagged failure" {
		t.Fatalf("details of untagged = %q", got)
	}
	if Details(nil) != "" {
		t.Fatal("details of nil must be empty")
	}
}
