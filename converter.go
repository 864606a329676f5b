package missive

import (
	"errors"
	"fmt"
	"reflect"
)

// HeaderContentType is the property carrying the body's MIME type.
const HeaderContentType = "Content-Type"

// JSONConverter converts values to JSON text messages stamped with a type identifier,
// and resolves that identifier on receive to decode into a value of the original type.
// Strings, byte slices and string-keyed maps are delegated to the fallback converter.
//
// A JSONConverter holds no per-call state and is safe for concurrent use as long as its
// TypeMapper is; SetTypeMapper must not race with conversions.
type JSONConverter struct {
	mapper   TypeMapper
	fallback Converter
	codec    Codec
}

// ConverterOption configures a JSONConverter.
type ConverterOption func(*JSONConverter)

// WithTypeMapper sets the type mapper.
// If not specified, an empty TypeRegistry with qualified names is used.
func WithTypeMapper(m TypeMapper) ConverterOption {
	return func(c *JSONConverter) {
		c.mapper = m
	}
}

// WithFallbackConverter sets the converter used for primitive payloads and untyped messages.
// If not specified, SimpleConverter is used.
func WithFallbackConverter(f Converter) ConverterOption {
	return func(c *JSONConverter) {
		c.fallback = f
	}
}

// WithCodec sets the body codec.
// If not specified, JSONCodec is used.
func WithCodec(codec Codec) ConverterOption {
	return func(c *JSONConverter) {
		c.codec = codec
	}
}

// NewJSONConverter creates a JSONConverter.
func NewJSONConverter(opts ...ConverterOption) *JSONConverter {
	c := &JSONConverter{}
	for _, opt := range opts {
		opt(c)
	}
	if c.mapper == nil {
		c.mapper = NewTypeRegistry()
	}
	if c.fallback == nil {
		c.fallback = SimpleConverter{}
	}
	if c.codec == nil {
		c.codec = JSONCodec{}
	}
	return c
}

// SetTypeMapper replaces the type mapper. A nil mapper is ignored.
func (c *JSONConverter) SetTypeMapper(m TypeMapper) {
	if m != nil {
		c.mapper = m
	}
}

// TypeMapper returns the current type mapper.
func (c *JSONConverter) TypeMapper() TypeMapper {
	return c.mapper
}

// ToMessage implements Converter.
func (c *JSONConverter) ToMessage(v any, session Session) (*Message, error) {
	if isNil(v) {
		return nil, nilObjectError()
	}
	if session == nil {
		return nil, objectError(ReasonTransport, v, errNilSession)
	}
	if isPlain(v) {
		msg, err := c.fallback.ToMessage(v, session)
		if err != nil {
			return nil, asConversionError(err, func() *ConversionError { return objectError(ReasonUnsupported, v, err) })
		}
		return msg, nil
	}

	t := reflect.TypeOf(v)
	data, err := c.codec.Marshal(v)
	if err != nil {
		return nil, objectError(ReasonMarshal, v, err)
	}

	msg, err := session.CreateTextMessage(string(data))
	if err != nil {
		return nil, objectError(ReasonTransport, v, err)
	}
	if msg == nil {
		return nil, objectError(ReasonTransport, v, errors.New("session returned no message"))
	}

	id, err := c.mapper.FromType(t)
	if err != nil {
		return nil, objectError(ReasonTypeMapping, v, err)
	}
	if msg.Properties == nil {
		msg.Properties = make(Properties)
	}
	msg.Properties.SetString(c.mapper.TypeIDFieldName(), id)
	if !msg.Properties.Has(HeaderContentType) {
		msg.Properties.SetString(HeaderContentType, c.codec.ContentType())
	}
	return msg, nil
}

// FromMessage implements Converter. The returned value has exactly the registered type;
// callers narrow it with a type assertion.
func (c *JSONConverter) FromMessage(msg *Message) (any, error) {
	if msg == nil {
		return nil, nilMessageError()
	}

	id, ok := msg.Properties.GetString(c.mapper.TypeIDFieldName())
	if !ok {
		v, err := c.fallback.FromMessage(msg)
		if err != nil {
			return nil, asConversionError(err, func() *ConversionError { return messageError(ReasonUnsupported, msg, err) })
		}
		return v, nil
	}
	if msg.Kind != KindText {
		return nil, messageError(ReasonNotText, msg, fmt.Errorf("type identifier %q on a %s message", id, msg.Kind))
	}

	t, err := c.mapper.ToType(id)
	if err != nil {
		return nil, messageError(ReasonTypeMapping, msg, err)
	}
	if t == nil {
		return nil, messageError(ReasonTypeMapping, msg, fmt.Errorf("%w: %q", ErrUnknownTypeID, id))
	}

	target := reflect.New(t)
	if err := c.codec.Unmarshal([]byte(msg.Text), target.Interface()); err != nil {
		return nil, messageError(ReasonUnmarshal, msg, fmt.Errorf("decode %q: %w", id, err))
	}
	return target.Elem().Interface(), nil
}

// asConversionError passes *ConversionError through and wraps anything else.
func asConversionError(err error, wrap func() *ConversionError) error {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return err
	}
	return wrap()
}

var _ Converter = (*JSONConverter)(nil)
