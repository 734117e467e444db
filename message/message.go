// Package message defines the RPC messages exchanged with the control plane.
//
// Requests arrive as WebSocket text messages, responses leave the same way.
// Binary messages are reserved for frame envelopes (see package protocol).
//
//   - Request:  {"function": "...", "args": [...], "kwargs": {...}}
//   - Response: {"id": "...", "status": "success"|"error", "result": ..., "error": "..."}
package message

import "encoding/json"

// ListMethods is the reserved function name answered by introspection.
const ListMethods = "list_available_methods"

// Run id keys accepted inside kwargs. The legacy key predates run_id.
const (
	RunIDKey       = "run_id"
	LegacyRunIDKey = "_run_test_id"
)

// Status of a response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request is one inbound RPC call. It is decoded once and never mutated.
type Request struct {
	ID       string         `json:"id,omitempty"`     // Explicit correlation id, takes precedence
	Function string         `json:"function"`         // Capability name
	Args     []any          `json:"args"`             // Positional arguments
	Kwargs   map[string]any `json:"kwargs"`           // Keyword arguments, may carry run_id
	RunID    string         `json:"run_id,omitempty"` // Top-level run id
}

// CorrelationID returns the key echoed back in the response id.
// Order: id, run_id, kwargs.run_id, kwargs._run_test_id.
func (r *Request) CorrelationID() string {
	if r.ID != "" {
		return r.ID
	}
	if r.RunID != "" {
		return r.RunID
	}
	if v, ok := r.Kwargs[RunIDKey]; ok && v != nil {
		return Stringify(v)
	}
	if v, ok := r.Kwargs[LegacyRunIDKey]; ok && v != nil {
		return Stringify(v)
	}
	return ""
}

// MethodDescriptor describes one capability for introspection.
type MethodDescriptor struct {
	Name string   `json:"name"`
	Args []string `json:"args"` // Parameter names, run id parameter excluded
	Doc  string   `json:"doc"`
}

// Response is always produced for a request, including malformed ones.
type Response struct {
	ID      string             `json:"id,omitempty"`
	Status  Status             `json:"status"`
	Result  any                `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
	Methods []MethodDescriptor `json:"methods,omitempty"` // Introspection only
}

// MarshalJSON always writes "result" on a call success, null included.
// Error and introspection responses leave it out.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	if r.Status != StatusSuccess || r.Methods != nil {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		Result any `json:"result"`
	}{plain(r), r.Result})
}

// Success builds a success response.
func Success(id string, result any) *Response {
	return &Response{ID: id, Status: StatusSuccess, Result: result}
}

// Failure builds an error response.
func Failure(id string, errMsg string) *Response {
	return &Response{ID: id, Status: StatusError, Error: errMsg}
}

// IsError reports whether the response carries an error status.
func (r *Response) IsError() bool {
	return r.Status == StatusError
}
