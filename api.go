// Package missive converts application values to and from broker messages.
//
// Outbound values are encoded as JSON into text messages and stamped with a type identifier
// property. Inbound text messages carrying that property are decoded back into a value of the
// identified type. Strings, byte slices and string-keyed maps bypass JSON and travel as plain
// text, bytes and map messages.
//
// Publishers observe Capitan signals, convert each value and hand the message to a Provider.
// Subscribers consume from a Provider, convert each message and emit to Capitan signals.
package missive

import (
	"context"
	"errors"

	"github.com/zoobzio/capitan"
)

// Sentinel errors for provider misconfiguration.
var (
	// ErrNoWriter is returned when Publish is called on a provider without a writer configured.
	ErrNoWriter = errors.New("missive: no writer configured for publishing")

	// ErrNoReader is returned when Subscribe is called on a provider without a reader configured.
	ErrNoReader = errors.New("missive: no reader configured for subscribing")
)

// Delivery is a message received from a broker with acknowledgment controls.
// Ack confirms successful processing; Nack signals failure and typically triggers redelivery.
type Delivery struct {
	// Message is the decoded broker message.
	Message *Message

	// Ack acknowledges successful processing.
	Ack func() error

	// Nack signals processing failure.
	// Redelivery behaviour varies by broker.
	Nack func() error
}

// Envelope wraps a value with properties for pipeline processing.
type Envelope[T any] struct {
	// Value is the typed payload.
	Value T

	// Properties are copied onto the outgoing message.
	// Keys set by the converter (type id, content type) are never overridden.
	Properties Properties
}

// Provider defines the interface for message broker implementations.
// Providers map a Message onto broker-native bodies and headers, usually via Encode and Decode.
type Provider interface {
	// Publish sends a message to the broker.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe returns a stream of deliveries from the broker.
	Subscribe(ctx context.Context) <-chan Result[Delivery]

	// Ping verifies broker connectivity.
	Ping(ctx context.Context) error

	// Close releases broker resources.
	Close() error
}

// Error signals and keys for observability.
var (
	// ErrorSignal is emitted when missive encounters an operational error.
	// This includes publish failures, conversion failures and acknowledgment errors.
	ErrorSignal = capitan.NewSignal("missive.error", "Missive operational error")

	// ErrorKey extracts Error from events on ErrorSignal.
	ErrorKey = capitan.NewKey[Error]("error", "missive.Error")

	// PropertiesKey extracts Properties from events emitted by subscribers.
	PropertiesKey = capitan.NewKey[Properties]("properties", "missive.Properties")
)

// Error represents an operational error in missive.
type Error struct {
	// Operation is the operation that failed: "publish", "subscribe", "convert", "ack" or "nack".
	Operation string `json:"operation"`

	// Signal is the name of the user's signal involved in the error.
	Signal string `json:"signal"`

	// Err is the error message.
	Err string `json:"error"`

	// Nack is true if the message was nack'd for redelivery.
	Nack bool `json:"nack"`

	// Raw contains the original message body, if available.
	// Populated for conversion errors to aid debugging.
	Raw []byte `json:"raw,omitempty"`
}

type propertiesContextKey struct{}

// ContextWithProperties attaches message properties to ctx.
func ContextWithProperties(ctx context.Context, p Properties) context.Context {
	return context.WithValue(ctx, propertiesContextKey{}, p)
}

// PropertiesFromContext returns the properties attached by ContextWithProperties, or nil.
func PropertiesFromContext(ctx context.Context) Properties {
	p, _ := ctx.Value(propertiesContextKey{}).(Properties)
	return p
}
