// Package queue carries refresh events out of a node and refresh triggers
// into it. Every backend delivers a published message to every subscriber
// of the subject (fan-out), so all nodes observe all events.
package queue

import "context"

// Type names a queue backend
type Type string

const (
	TypeNATS   Type = "nats"
	TypeRedis  Type = "redis"
	TypeKafka  Type = "kafka"
	TypeMemory Type = "memory"
)

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// Close closes the connection
	Close() error
}

// Subscriber subscribes to messages from a queue
type Subscriber interface {
	// Subscribe registers a handler for a subject/topic
	Subscribe(subject string, handler MessageHandler) error

	// Unsubscribe removes the handler of a subject/topic
	Unsubscribe(subject string) error

	// Close closes the connection
	Close() error
}

// MessageHandler handles incoming messages
type MessageHandler func(data []byte) error

// Queue combines Publisher and Subscriber interfaces
type Queue interface {
	Publisher
	Subscriber
}

// Subjects derived from the configured prefix
type Subjects struct {
	Prefix string
}

// Refreshed is where successful refresh outcomes are published
func (s Subjects) Refreshed() string { return s.Prefix + ".dataset.refreshed" }

// Failed is where failed refresh outcomes are published
func (s Subjects) Failed() string { return s.Prefix + ".dataset.failed" }

// Trigger is where refresh requests are received
func (s Subjects) Trigger() string { return s.Prefix + ".refresh" }
