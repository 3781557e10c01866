package smig

import (
	"context"
	"time"
)

// Message is one delivery of a queued message. DeliveryCount counts this
// delivery, starting at 1.
type Message struct {
	ID            string
	Body          []byte
	DeliveryCount int
}

// MessageActions settles a single delivery. Exactly one action should be
// called per delivery; a delivery left unsettled becomes redeliverable once
// its lock expires.
type MessageActions interface {
	// Complete removes the message from the queue permanently.
	Complete(ctx context.Context) error

	// Abandon returns the message to the queue for redelivery.
	Abandon(ctx context.Context) error

	// DeadLetter removes the message from normal flow into the dead-letter
	// queue. reason is recorded for triage.
	DeadLetter(ctx context.Context, reason string) error
}

// Handler processes one delivery. The handler is responsible for settling
// the message via acts.
type Handler func(ctx context.Context, msg Message, acts MessageActions)

// SubscribeOptions configures a queue consumer.
type SubscribeOptions struct {
	// MaxConcurrent caps how many deliveries are handled at once.
	MaxConcurrent int

	// Prefetch is how many messages the receiver may buffer ahead of the
	// handler. Zero disables prefetching.
	Prefetch int

	// LockRenewal is how long a delivery may stay locked to this consumer
	// before the queue makes it redeliverable. Must cover slow downloads.
	LockRenewal time.Duration

	// OnError receives queue infrastructure errors (not handler errors).
	// The receiver keeps running after calling it.
	OnError func(error)
}

// Queue is a durable message queue with at-least-once delivery.
type Queue interface {
	// Send enqueues a message body.
	Send(ctx context.Context, body []byte) error

	// Subscribe starts a consumer and returns immediately. The consumer
	// runs until ctx is cancelled.
	Subscribe(ctx context.Context, opts SubscribeOptions, h Handler) error

	// Len returns the number of messages available for delivery.
	Len(ctx context.Context) (int, error)
}
