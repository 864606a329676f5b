package missive

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known wire headers.
const (
	// HeaderMessageKind carries Kind.String() so receivers can rebuild the right body.
	HeaderMessageKind = "Message-Kind"

	// HeaderMessageID carries the publisher-assigned message identifier.
	HeaderMessageID = "Message-Id"
)

// Default content types per message kind.
const (
	ContentTypeText  = "text/plain; charset=utf-8"
	ContentTypeBytes = "application/octet-stream"
	ContentTypeMap   = "application/json"
)

// Encode flattens msg into a body and a header set suitable for any broker.
// The returned headers are a copy of msg.Properties plus Message-Kind and a default
// Content-Type when none is set.
func Encode(msg *Message) ([]byte, Properties, error) {
	if msg == nil {
		return nil, nil, errors.New("missive: cannot encode nil message")
	}

	headers := msg.Properties.Clone()
	headers.SetString(HeaderMessageKind, msg.Kind.String())

	var (
		body        []byte
		contentType string
	)
	switch msg.Kind {
	case KindText:
		body, contentType = []byte(msg.Text), ContentTypeText
	case KindBytes:
		body, contentType = msg.Bytes, ContentTypeBytes
	case KindMap:
		data, err := json.Marshal(msg.Map)
		if err != nil {
			return nil, nil, fmt.Errorf("missive: encode map body: %w", err)
		}
		body, contentType = data, ContentTypeMap
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}

	if !headers.Has(HeaderContentType) {
		headers.SetString(HeaderContentType, contentType)
	}
	return body, headers, nil
}

// Decode rebuilds a message from a body and headers produced by Encode.
// A missing Message-Kind header yields a bytes message, so payloads from foreign
// producers are still delivered.
func Decode(body []byte, headers Properties) (*Message, error) {
	props := headers.Clone()
	kindName, ok := props.GetString(HeaderMessageKind)
	delete(props, HeaderMessageKind)

	kind := KindBytes
	if ok {
		k, err := ParseKind(kindName)
		if err != nil {
			return nil, err
		}
		kind = k
	}

	msg := &Message{Kind: kind, Properties: props}
	switch kind {
	case KindText:
		msg.Text = string(body)
	case KindBytes:
		msg.Bytes = body
	case KindMap:
		if err := json.Unmarshal(body, &msg.Map); err != nil {
			return nil, fmt.Errorf("missive: decode map body: %w", err)
		}
	}
	return msg, nil
}

// HeaderBodyEncoding marks a body that was transformed to fit a text-only transport.
const HeaderBodyEncoding = "Body-Encoding"

// EncodeText is Encode for transports whose payload must be a string.
// Bytes bodies are base64 encoded and flagged with Body-Encoding.
func EncodeText(msg *Message) (string, Properties, error) {
	body, headers, err := Encode(msg)
	if err != nil {
		return "", nil, err
	}
	if msg.Kind == KindBytes {
		headers.SetString(HeaderBodyEncoding, "base64")
		return base64.StdEncoding.EncodeToString(body), headers, nil
	}
	return string(body), headers, nil
}

// DecodeText reverses EncodeText.
func DecodeText(body string, headers Properties) (*Message, error) {
	enc, ok := headers.GetString(HeaderBodyEncoding)
	if !ok {
		return Decode([]byte(body), headers)
	}
	if enc != "base64" {
		return nil, fmt.Errorf("missive: unsupported body encoding %q", enc)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("missive: decode base64 body: %w", err)
	}
	props := headers.Clone()
	delete(props, HeaderBodyEncoding)
	return Decode(raw, props)
}
