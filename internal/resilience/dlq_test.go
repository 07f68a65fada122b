package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry DLQEntry
		want  bool
	}{
		{"below max", DLQEntry{RetryCount: 0, MaxRetries: 3, ErrorType: ErrorTransient}, true},
		{"at max", DLQEntry{RetryCount: 3, MaxRetries: 3, ErrorType: ErrorPermanent}, false},
		{"malformed", DLQEntry{RetryCount: 0, MaxRetries: 3, ErrorType: ErrorMalformed}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.entry.CanRetry(), tt.name)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrorTransient, ClassifyError(NewTransientError(errors.New("busy"), 503)))
	assert.Equal(t, ErrorPermanent, ClassifyError(errors.New("invalid payload")))
}
