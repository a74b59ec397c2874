// Package dlq implements the dead letter queue: durable capture of failed
// subscriber deliveries with bounded, time-boxed retry.
package dlq

import (
	"errors"
	"time"

	"github.com/vishwanath-tns/StockScreeer-sub011/internal/broker"
	"github.com/vishwanath-tns/StockScreeer-sub011/internal/codec"
)

// Message is one failed delivery held by the manager. Only the manager
// mutates it after creation (retry count increments on failed retries).
type Message struct {
	ID                string `json:"id"`
	Channel           string `json:"channel"`
	Payload           []byte `json:"payload"`
	ErrorMessage      string `json:"error_message"`
	ErrorType         string `json:"error_type"`
	OriginalTimestamp int64  `json:"original_timestamp"`
	FailureTimestamp  int64  `json:"failure_timestamp"`
	RetryCount        int    `json:"retry_count"`
	MaxRetries        int    `json:"max_retries"`
	SubscriberID      string `json:"subscriber_id"`
}

// IsRetryable reports whether the retry budget is not yet exhausted.
func (m *Message) IsRetryable() bool {
	return m.RetryCount < m.MaxRetries
}

// ShouldDiscard reports whether the failure is older than the retention
// window.
func (m *Message) ShouldDiscard(retentionDays int) bool {
	age := time.Now().Unix() - m.FailureTimestamp
	return age > int64(retentionDays)*86400
}

// errorTypeOf classifies the failure for the diagnostic error_type field.
func errorTypeOf(err error) string {
	var derr *codec.DeserializationError
	if errors.As(err, &derr) {
		return "DeserializationError"
	}
	var serr *codec.SerializationError
	if errors.As(err, &serr) {
		return "SerializationError"
	}
	var berr *broker.Error
	if errors.As(err, &berr) {
		return "BrokerError"
	}
	return "ProcessingError"
}
