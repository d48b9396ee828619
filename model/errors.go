package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the category of an exchange failure
type ErrorKind string

const (
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindParse      ErrorKind = "parse"
	ErrorKindTool       ErrorKind = "tool"
	ErrorKindValidation ErrorKind = "validation"
)

// ExchangeError is a categorized failure raised while building, streaming or
// finishing one exchange.
type ExchangeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps a network or HTTP failure
func NewTransportError(message string, err error) *ExchangeError {
	return &ExchangeError{Kind: ErrorKindTransport, Message: message, Err: err}
}

// NewParseError wraps a malformed fragment
func NewParseError(message string, err error) *ExchangeError {
	return &ExchangeError{Kind: ErrorKindParse, Message: message, Err: err}
}

// NewToolError wraps a failure reported during tool execution or processing
func NewToolError(message string, err error) *ExchangeError {
	return &ExchangeError{Kind: ErrorKindTool, Message: message, Err: err}
}

// NewValidationError rejects a submission before any network call
func NewValidationError(message string) *ExchangeError {
	return &ExchangeError{Kind: ErrorKindValidation, Message: message}
}

// KindOf returns the kind of an ExchangeError anywhere in err's chain, or ""
func KindOf(err error) ErrorKind {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Kind
	}
	return ""
}

// Diagnostic formats an error for display inside a synthetic assistant message
func Diagnostic(err error) string {
	kind := KindOf(err)
	if kind == "" {
		kind = ErrorKindTransport
	}

	var xe *ExchangeError
	if errors.As(err, &xe) {
		detail := xe.Message
		if xe.Err != nil {
			detail = fmt.Sprintf("%s: %v", xe.Message, xe.Err)
		}
		return fmt.Sprintf("❌ %s error: %s", kind, detail)
	}
	return fmt.Sprintf("❌ %s error: %v", kind, err)
}
