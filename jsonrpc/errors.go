package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyMethod is returned when encoding a request without a method.
	ErrEmptyMethod          = errors.New("jsonrpc: empty method")
	// ErrNoResultOrError indicates a response carrying neither result nor error.
	ErrNoResultOrError      = errors.New("jsonrpc: response has neither result nor error")
	// ErrResultAndError indicates a response carrying both result and error.
	ErrResultAndError       = errors.New("jsonrpc: response has both result and error")
	// ErrMalformedErrorObject indicates an error member without code or message.
	ErrMalformedErrorObject = errors.New("jsonrpc: error object missing code or message")
)

// Error is an error object returned by the remote side.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// EncodeError reports a request that could not be built.
type EncodeError struct {
	Method string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("jsonrpc: encode %q: %v", e.Method, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response that is not valid JSON or matches neither
// the success nor the error shape.
type DecodeError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jsonrpc: decode: %s: %v", e.Reason, e.Err)
	}
	return "jsonrpc: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
