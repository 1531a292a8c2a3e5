// Package rpc defines the JSON-RPC 2.0 request/response shapes the broker
// speaks on every transport, and the error codes used across the system.
package rpc

import "encoding/json"

// Error codes recognized by the broker. -32700 and -32601 mirror the
// JSON-RPC 2.0 reserved range; -32000 is the implementation-defined
// range used for handler exceptions and operational failures.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternal       = -32000
)

// Recognized methods.
const (
	MethodFetch        = "fetch"
	MethodPrefetch     = "prefetch"
	MethodUpdateConfig = "update_config"
)

// Request is an inbound JSON-RPC 2.0 request object. ID is left as
// json.RawMessage so it can be a string, a number, or absent/null without
// the broker ever needing to reinterpret its type: it is echoed back
// verbatim in the Response.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether this request carries no id (or an
// explicit JSON null id), meaning the caller expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Response is an outbound JSON-RPC 2.0 response object. Exactly one of
// Result / Err is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
}

// NewResult builds a successful response for the given request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{ID: id, Result: result}
}

// NewError builds an error response for the given request id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{ID: id, Err: &Error{Code: code, Message: message}}
}

// ParseError builds the fixed {"id":null,"error":{"code":-32700,...}}
// response a transport adapter emits when it cannot deserialize inbound
// bytes at all.
func ParseError() *Response {
	return NewError(nil, CodeParseError, "Parse error")
}

// FetchParams is the params object for fetch and prefetch.
type FetchParams struct {
	URL   string `json:"url"`
	Cache *bool  `json:"cache,omitempty"`
}

// UpdateConfigParams is the params object for update_config: a shallow
// key/value map applied against the recognized config keys.
type UpdateConfigParams map[string]json.RawMessage
