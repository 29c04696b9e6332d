// Package common holds transport-neutral types shared by infrastructure
// adapters: message-queue envelopes and batch results.
package common

import (
	"context"
	"time"
)

// ProducerMessage is a message handed to a queue producer.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// ConsumerMessage is a message delivered by a queue consumer.
type ConsumerMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one consumed message.  Returning an error marks
// the message as failed; the consumer decides whether to retry.
type MessageHandler func(ctx context.Context, msg *ConsumerMessage) error

// BatchItemError describes one failed item of a batch publish.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarises a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}
