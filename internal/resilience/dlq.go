package resilience

import (
	"encoding/json"
	"time"
)

// Error types recorded on dead-lettered messages.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
	// ErrorMalformed marks payloads that can never be processed.
	ErrorMalformed = "malformed"
)

// DLQEntry is a message that exhausted its delivery attempts.
type DLQEntry struct {
	ID            string          `json:"id"`
	MessageID     string          `json:"message_id"`
	MessageType   string          `json:"message_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	ErrorType     string          `json:"error_type"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	CreatedAt     time.Time       `json:"created_at"`
	LastFailedAt  time.Time       `json:"last_failed_at"`
}

// DLQFilter selects dead-lettered messages.
type DLQFilter struct {
	MessageType string `json:"message_type,omitempty"`
	ErrorType   string `json:"error_type,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry may be requeued again.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType != ErrorMalformed && e.RetryCount < e.MaxRetries
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
