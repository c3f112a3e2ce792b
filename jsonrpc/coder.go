package jsonrpc

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
)

// Coder encodes calls into request strings and decodes response strings.
// Its only state is the id counter; it is safe for concurrent use.
type Coder struct {
	nextID atomic.Int64
}

// NewCoder returns a Coder whose first request id is 1.
func NewCoder() *Coder {
	return &Coder{}
}

// EncodeRequest builds a request with a fresh id. Nil params encode as [].
func (c *Coder) EncodeRequest(method string, params []any) (*Request, error) {
	if method == "" {
		return nil, &EncodeError{Method: method, Err: ErrEmptyMethod}
	}
	if params == nil {
		params = []any{}
	}
	raw, err := Marshal(params)
	if err != nil {
		return nil, &EncodeError{Method: method, Err: err}
	}

	return &Request{
		JSONRPC: Version,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  raw,
	}, nil
}

// Encode returns the wire form of a call to method with params.
func (c *Coder) Encode(method string, params []any) (string, error) {
	req, err := c.EncodeRequest(method, params)
	if err != nil {
		return "", err
	}
	data, err := Marshal(req)
	if err != nil {
		return "", &EncodeError{Method: method, Err: err}
	}
	return string(data), nil
}

// DecodeResponse parses raw into a validated Response. A non-null error
// member yields a Response with Error set; callers that only want the
// result should use Decode.
func (c *Coder) DecodeResponse(raw string) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &DecodeError{Raw: raw, Reason: "invalid json", Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Raw: raw, Reason: "response is not an object"}
	}

	resp := &Response{ID: fields["id"]}
	if v, ok := fields["jsonrpc"]; ok {
		if err := Unmarshal(v, &resp.JSONRPC); err != nil {
			return nil, &DecodeError{Raw: raw, Reason: "invalid jsonrpc member", Err: err}
		}
	}

	result, hasResult := fields["result"]
	errRaw, hasError := fields["error"]
	if hasError && bytes.Equal(bytes.TrimSpace(errRaw), nullValue) {
		hasError = false
	}

	switch {
	case hasError && hasResult && !bytes.Equal(bytes.TrimSpace(result), nullValue):
		return nil, &DecodeError{Raw: raw, Reason: "ambiguous response", Err: ErrResultAndError}
	case hasError:
		rpcErr, err := decodeErrorObject(errRaw)
		if err != nil {
			return nil, &DecodeError{Raw: raw, Reason: "invalid error object", Err: err}
		}
		resp.Error = rpcErr
	case hasResult:
		resp.Result = result
	default:
		return nil, &DecodeError{Raw: raw, Reason: "unknown response shape", Err: ErrNoResultOrError}
	}

	return resp, nil
}

// Decode returns the result member of raw verbatim. A remote error is
// returned as *Error; malformed input as *DecodeError.
func (c *Coder) Decode(raw string) (json.RawMessage, error) {
	resp, err := c.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func decodeErrorObject(raw json.RawMessage) (*Error, error) {
	var obj struct {
		Code    *int            `json:"code"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.Code == nil || obj.Message == nil {
		return nil, ErrMalformedErrorObject
	}
	return &Error{Code: *obj.Code, Message: *obj.Message, Data: obj.Data}, nil
}
