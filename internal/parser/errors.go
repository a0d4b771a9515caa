package parser

import "fmt"

// Kind classifies a parse failure.
type Kind int

const (
	// KindInvalidFormat covers structurally malformed input.
	KindInvalidFormat Kind = iota + 1
	// KindMissingField means an expected top-level section marker is absent.
	KindMissingField
	// KindParseValue means a scalar could not be decoded where it was required.
	KindParseValue
	// KindUnexpectedEOF means the input ended in the middle of a construct.
	KindUnexpectedEOF
	// KindIO wraps failures reading the input.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindInvalidFormat:
		return "invalid_format"
	case KindMissingField:
		return "missing_field"
	case KindParseValue:
		return "parse_value"
	case KindUnexpectedEOF:
		return "unexpected_eof"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by the profile parser.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrInvalidFormat = &Error{Kind: KindInvalidFormat}
	ErrMissingField  = &Error{Kind: KindMissingField}
	ErrParseValue    = &Error{Kind: KindParseValue}
	ErrUnexpectedEOF = &Error{Kind: KindUnexpectedEOF}
	ErrIO            = &Error{Kind: KindIO}
)

func (e *Error) Error() string {
	var prefix string
	switch e.Kind {
	case KindInvalidFormat:
		prefix = "invalid profile format"
	case KindMissingField:
		prefix = "missing required field"
	case KindParseValue:
		prefix = "failed to parse value"
	case KindUnexpectedEOF:
		prefix = "unexpected end of input"
	case KindIO:
		prefix = "io error"
	default:
		prefix = "profile error"
	}
	msg := prefix
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a parser error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}
