package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInput marks unsupported or corrupt sources. Never retried.
	ErrInput = errors.New("input error")
	// ErrModel marks recognition, translation, or synthesis backend failures.
	// Never retried automatically; the caller may retry the whole run.
	ErrModel = errors.New("model error")
	// ErrResource marks transient I/O failures (encoder writes, queue stalls).
	// Eligible for a single retry of the failing stage.
	ErrResource = errors.New("resource error")
	// ErrCancelled marks user-initiated cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrValidation marks invalid invocation arguments.
	ErrValidation = errors.New("validation error")
)

// Kind is the coarse classification recorded on a failed run.
type Kind string

const (
	KindNone      Kind = ""
	KindInput     Kind = "input"
	KindModel     Kind = "model"
	KindResource  Kind = "resource"
	KindCancelled Kind = "cancelled"
	KindInternal  Kind = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrResource
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error to the kind the controller records on the run.
// Context cancellation counts as user cancellation.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrInput), errors.Is(err, ErrValidation):
		return KindInput
	case errors.Is(err, ErrModel):
		return KindModel
	case errors.Is(err, ErrResource):
		return KindResource
	default:
		return KindInternal
	}
}

// Retryable reports whether a failed stage may be attempted once more.
func Retryable(err error) bool {
	return KindOf(err) == KindResource
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
