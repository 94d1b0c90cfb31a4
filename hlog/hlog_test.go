package hlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-logr/logr/funcr"
)

func TestIsContextCancellation(t *testing.T) {
	if IsContextCancellation(nil) {
		t.Error("nil error is not a cancellation")
	}
	if !IsContextCancellation(context.Canceled) {
		t.Error("context.Canceled is a cancellation")
	}
	if !IsContextCancellation(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded is a cancellation")
	}
	if !IsContextCancellation(fmt.Errorf("request aborted: %w", context.Canceled)) {
		t.Error("wrapped cancellation should be recognized")
	}
	if IsContextCancellation(errors.New("broker unreachable")) {
		t.Error("ordinary errors are not cancellations")
	}
}

func TestErrorIfNotCanceled(t *testing.T) {
	var logged []string
	log := funcr.New(func(prefix, args string) {
		logged = append(logged, args)
	}, funcr.Options{})

	ErrorIfNotCanceled(log, context.Canceled, "should be suppressed")
	ErrorIfNotCanceled(log, nil, "should be suppressed")
	if len(logged) != 0 {
		t.Fatalf("cancellation was logged: %v", logged)
	}

	ErrorIfNotCanceled(log, errors.New("broker unreachable"), "should be logged", "attempt", 1)
	if len(logged) != 1 {
		t.Fatalf("got %d log lines, want 1", len(logged))
	}
}
