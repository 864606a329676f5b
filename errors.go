package missive

import "fmt"

// Reason tags the condition behind a ConversionError.
type Reason uint8

// Conversion failure reasons.
const (
	ReasonNilObject Reason = iota + 1
	ReasonNilMessage
	ReasonMarshal
	ReasonUnmarshal
	ReasonTypeMapping
	ReasonTransport
	ReasonNotText
	ReasonUnsupported
)

// String returns a short name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNilObject:
		return "nil object"
	case ReasonNilMessage:
		return "nil message"
	case ReasonMarshal:
		return "marshal"
	case ReasonUnmarshal:
		return "unmarshal"
	case ReasonTypeMapping:
		return "type mapping"
	case ReasonTransport:
		return "transport"
	case ReasonNotText:
		return "not a text message"
	case ReasonUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// ConversionError is returned by every Converter operation that fails.
// Subject names what could not be converted, Err carries the underlying cause when there is one.
type ConversionError struct {
	Reason  Reason
	Subject string
	Err     error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missive: cannot convert %s: %v", e.Subject, e.Err)
	}
	return "missive: cannot convert " + e.Subject
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error {
	return e.Err
}

func objectError(reason Reason, v any, err error) *ConversionError {
	return &ConversionError{Reason: reason, Subject: fmt.Sprintf("object of type %T", v), Err: err}
}

func messageError(reason Reason, msg *Message, err error) *ConversionError {
	return &ConversionError{Reason: reason, Subject: "message of kind " + msg.Kind.String(), Err: err}
}

func nilObjectError() *ConversionError {
	return &ConversionError{Reason: ReasonNilObject, Subject: "null object"}
}

func nilMessageError() *ConversionError {
	return &ConversionError{Reason: ReasonNilMessage, Subject: "null message"}
}
