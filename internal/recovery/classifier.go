package recovery

import (
	"context"
	"errors"
	"os"
	"syscall"
)

// Classification describes an error for strategy selection. Retryable
// gates the retry strategy; Category and Severity are advisory labels for
// logs and external circuit breakers.
type Classification struct {
	Retryable bool
	Category  string
	Severity  string
}

// ErrorClassifier maps an arbitrary error to a Classification. Callers
// with domain knowledge supply their own; the default is conservative.
type ErrorClassifier interface {
	Classify(err error) Classification
}

type defaultClassifier struct{}

// DefaultClassifier returns the built-in classifier. Permission errors are
// fatal, timeouts and known transient I/O errors are retryable, everything
// unrecognized is treated as non-retryable.
func DefaultClassifier() ErrorClassifier {
	return defaultClassifier{}
}

func (defaultClassifier) Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{Category: "none", Severity: "info"}
	case errors.Is(err, os.ErrPermission):
		return Classification{Category: "permission", Severity: "fatal"}
	case errors.Is(err, context.DeadlineExceeded):
		return Classification{Retryable: true, Category: "timeout", Severity: "transient"}
	case errors.Is(err, context.Canceled):
		return Classification{Category: "canceled", Severity: "fatal"}
	case errors.Is(err, os.ErrNotExist):
		return Classification{Category: "not_found", Severity: "error"}
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.ENOSPC):
		return Classification{Retryable: true, Category: "io", Severity: "transient"}
	default:
		return Classification{Category: "unknown", Severity: "error"}
	}
}
