package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dataland/internal/resilience"
)

func TestFormatDLQ(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	entries := []resilience.DLQEntry{
		{
			ID:           "dlq-1",
			MessageType:  "QaStatusChanged",
			ErrorType:    resilience.ErrorTransient,
			Error:        "connection reset",
			RetryCount:   1,
			MaxRetries:   3,
			LastFailedAt: now,
		},
		{
			ID:           "dlq-2",
			MessageType:  "QaStatusChanged",
			ErrorType:    resilience.ErrorMalformed,
			Error:        strings.Repeat("x", 100),
			LastFailedAt: now,
		},
	}

	var buf bytes.Buffer
	formatDLQ(&buf, entries)

	output := buf.String()
	assert.Contains(t, output, "ERROR_TYPE")
	assert.Contains(t, output, "dlq-1")
	assert.Contains(t, output, "QaStatusChanged")
	assert.Contains(t, output, "transient")
	assert.Contains(t, output, "1/3")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "connection reset")
	// Long errors are cut.
	assert.Contains(t, output, strings.Repeat("x", 57)+"...")
	assert.NotContains(t, output, strings.Repeat("x", 58))
}
