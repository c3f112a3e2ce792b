// Package jsonrpc implements the JSON-RPC 2.0 wire codec used between the
// provider and the raw-string RPC client: request encoding with monotonically
// increasing ids, and response decoding into a result or a typed error.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// Standard error codes as defined in the JSON-RPC 2.0 specification.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

var nullValue = json.RawMessage("null")

// Request is an outbound JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 reply. Exactly one of Result and Error is set
// on a valid response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server push for an established subscription.
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

// NotificationParams carries the server-side subscription id and payload.
type NotificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Message is the union of every frame that can travel on the wire. It is
// used by transports that need to route a frame before fully decoding it.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ParseMessage decodes any JSON-RPC frame without validating its shape.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Raw: string(data), Reason: "invalid json", Err: err}
	}
	return &msg, nil
}

// IsNotification reports whether the frame is a call without an id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && isAbsent(m.ID)
}

// IsRequest reports whether the frame is a call carrying an id.
func (m *Message) IsRequest() bool {
	return m.Method != "" && !isAbsent(m.ID)
}

// IsResponse reports whether the frame is a reply to a call.
func (m *Message) IsResponse() bool {
	return m.Method == "" && !isAbsent(m.ID)
}

// Validate checks a request frame the way a server receiving it would.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return &Error{Code: InvalidRequest, Message: "Invalid JSON-RPC version"}
	}
	if m.Method == "" {
		return &Error{Code: InvalidRequest, Message: "Missing method"}
	}
	return nil
}

// Notification converts a notification frame into its typed form.
func (m *Message) Notification() (*Notification, error) {
	n := &Notification{JSONRPC: m.JSONRPC, Method: m.Method}
	if len(m.Params) == 0 {
		return nil, &DecodeError{Reason: "notification without params"}
	}
	if err := Unmarshal(m.Params, &n.Params); err != nil {
		return nil, &DecodeError{Raw: string(m.Params), Reason: "invalid notification params", Err: err}
	}
	return n, nil
}

// NewResponse builds a success response. A nil result is encoded as null.
func NewResponse(id json.RawMessage, result any) (*Response, error) {
	raw, err := marshalValue(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	if isAbsent(id) {
		id = nullValue
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// NewNotification builds a subscription push frame.
func NewNotification(method string, subscription string, result any) (*Notification, error) {
	raw, err := marshalValue(result)
	if err != nil {
		return nil, err
	}
	sub, err := Marshal(subscription)
	if err != nil {
		return nil, err
	}
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  NotificationParams{Subscription: sub, Result: raw},
	}, nil
}

// IDKey normalizes a raw id so that 7, "7" and 7.0 style variants of the
// same id can be used as one map key. String ids are unquoted.
func IDKey(id json.RawMessage) string {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(trimmed)
}

// PeekID extracts the id from an encoded request.
func PeekID(raw string) (json.RawMessage, error) {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := Unmarshal([]byte(raw), &head); err != nil {
		return nil, &DecodeError{Raw: raw, Reason: "invalid json", Err: err}
	}
	if isAbsent(head.ID) {
		return nil, &DecodeError{Raw: raw, Reason: "request has no id"}
	}
	return head.ID, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nullValue, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nullValue, nil
		}
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullValue)
}
