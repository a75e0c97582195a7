package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestDefaultClassifier(t *testing.T) {
	cl := DefaultClassifier()

	tests := []struct {
		name      string
		err       error
		retryable bool
		category  string
	}{
		{"nil", nil, false, "none"},
		{"permission", os.ErrPermission, false, "permission"},
		{"wrapped permission", fmt.Errorf("writing: %w", os.ErrPermission), false, "permission"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "canceled"},
		{"not found", os.ErrNotExist, false, "not_found"},
		{"busy", syscall.EBUSY, true, "io"},
		{"no space", syscall.ENOSPC, true, "io"},
		{"unknown", errors.New("something odd"), false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cl.Classify(tt.err)
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.Category != tt.category {
				t.Errorf("category = %q, want %q", got.Category, tt.category)
			}
		})
	}
}
