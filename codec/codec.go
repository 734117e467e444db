// Package codec turns RPC text messages into requests and responses back
// into text. JSON is the only wire format the control plane speaks.
package codec

import (
	"errors"

	"remote-agent/message"
)

// InvalidJSONMessage is the error text sent for unparseable input.
const InvalidJSONMessage = "Invalid JSON received"

var (
	// ErrInvalidJSON marks input that is empty or not JSON at all.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrInvalidRequest marks well-formed JSON that is not a request object.
	ErrInvalidRequest = errors.New("invalid request")
)

// Codec encodes responses and decodes requests.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	// DecodeRequest parses one inbound message. On failure it may still
	// return a partial request so the caller can recover a correlation id.
	DecodeRequest(data []byte) (*message.Request, error)
	EncodeResponse(resp *message.Response) ([]byte, error)
}
