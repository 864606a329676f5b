package missive

import (
	"errors"
	"fmt"
	"reflect"
)

var errNilSession = errors.New("nil session")

// Converter turns values into messages and back.
type Converter interface {
	// ToMessage converts v into a message created by session.
	ToMessage(v any, session Session) (*Message, error)

	// FromMessage converts msg back into a value.
	FromMessage(msg *Message) (any, error)
}

// SimpleConverter passes primitive payloads straight through:
// string <-> text message, []byte <-> bytes message, string-keyed map <-> map message.
type SimpleConverter struct{}

// ToMessage implements Converter.
func (SimpleConverter) ToMessage(v any, session Session) (*Message, error) {
	if isNil(v) {
		return nil, nilObjectError()
	}
	if session == nil {
		return nil, objectError(ReasonTransport, v, errNilSession)
	}

	var (
		msg *Message
		err error
	)
	switch val := v.(type) {
	case string:
		msg, err = session.CreateTextMessage(val)
	case []byte:
		msg, err = session.CreateBytesMessage(val)
	default:
		body, ok := stringMap(v)
		if !ok {
			return nil, objectError(ReasonUnsupported, v, fmt.Errorf("no plain message kind for %T", v))
		}
		msg, err = session.CreateMapMessage(body)
	}
	if err != nil {
		return nil, objectError(ReasonTransport, v, err)
	}
	if msg == nil {
		return nil, objectError(ReasonTransport, v, fmt.Errorf("session returned no message"))
	}
	return msg, nil
}

// FromMessage implements Converter.
func (SimpleConverter) FromMessage(msg *Message) (any, error) {
	if msg == nil {
		return nil, nilMessageError()
	}
	switch msg.Kind {
	case KindText:
		return msg.Text, nil
	case KindBytes:
		return msg.Bytes, nil
	case KindMap:
		return msg.Map, nil
	default:
		return nil, messageError(ReasonUnsupported, msg, ErrUnknownKind)
	}
}

// isPlain reports whether v is one of the payload kinds SimpleConverter handles.
// string and []byte match exactly; named types built on them do not.
func isPlain(v any) bool {
	return isPlainType(reflect.TypeOf(v))
}

var (
	stringType = reflect.TypeFor[string]()
	bytesType  = reflect.TypeFor[[]byte]()
)

func isPlainType(t reflect.Type) bool {
	if t == stringType || t == bytesType {
		return true
	}
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

// stringMap copies any string-keyed map into a map[string]any.
func stringMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// isNil reports whether v is nil or a nil pointer, func, chan or interface.
// Nil maps and slices are empty payloads, not null objects.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

var _ Converter = SimpleConverter{}
