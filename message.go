package missive

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a message kind cannot be recognised.
var ErrUnknownKind = errors.New("missive: unknown message kind")

// Kind identifies which body a Message carries.
type Kind uint8

// Message body kinds.
const (
	KindText Kind = iota + 1
	KindBytes
	KindMap
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a wire name produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "bytes":
		return KindBytes, nil
	case "map":
		return KindMap, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Properties is the string-keyed metadata bag carried by every message.
// Maps to broker-native headers (Kafka headers, AMQP headers, SQS attributes, etc.)
type Properties map[string]string

// SetString sets key to value.
func (p Properties) SetString(key, value string) {
	p[key] = value
}

// GetString returns the value stored under key and whether it was present.
func (p Properties) GetString(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Has reports whether key is present.
func (p Properties) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Clone returns a shallow copy, or a new empty map if p is nil.
func (p Properties) Clone() Properties {
	copied := make(Properties, len(p))
	for k, v := range p {
		copied[k] = v
	}
	return copied
}

// Message is the transport envelope: exactly one body selected by Kind, plus properties.
type Message struct {
	Kind Kind

	// Text is the body of a KindText message.
	Text string

	// Bytes is the body of a KindBytes message.
	Bytes []byte

	// Map is the body of a KindMap message.
	Map map[string]any

	Properties Properties
}

// NewTextMessage returns a text message with an empty property set.
func NewTextMessage(text string) *Message {
	return &Message{Kind: KindText, Text: text, Properties: make(Properties)}
}

// NewBytesMessage returns a bytes message with an empty property set.
func NewBytesMessage(data []byte) *Message {
	return &Message{Kind: KindBytes, Bytes: data, Properties: make(Properties)}
}

// NewMapMessage returns a map message with an empty property set.
func NewMapMessage(body map[string]any) *Message {
	return &Message{Kind: KindMap, Map: body, Properties: make(Properties)}
}

// Session creates messages for a messaging endpoint.
type Session interface {
	CreateTextMessage(text string) (*Message, error)
	CreateBytesMessage(data []byte) (*Message, error)
	CreateMapMessage(body map[string]any) (*Message, error)
}

type session struct{}

// NewSession returns an in-memory Session that never fails.
func NewSession() Session {
	return session{}
}

func (session) CreateTextMessage(text string) (*Message, error) {
	return NewTextMessage(text), nil
}

func (session) CreateBytesMessage(data []byte) (*Message, error) {
	return NewBytesMessage(data), nil
}

func (session) CreateMapMessage(body map[string]any) (*Message, error) {
	return NewMapMessage(body), nil
}
