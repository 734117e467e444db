package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"remote-agent/message"
)

// JSONCodec uses encoding/json. Numbers are decoded as json.Number so large
// integers in args survive the round trip to the capability untouched.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (c *JSONCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeRequest decodes field by field so that a bad "args" does not lose an
// otherwise readable id.
func (c *JSONCodec) DecodeRequest(data []byte) (*message.Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: request must be a JSON object", ErrInvalidRequest)
	}

	req := &message.Request{Kwargs: map[string]any{}}

	// Correlation fields first, they are needed even when the rest is broken
	var idErr error
	if raw, ok := fields["id"]; ok {
		req.ID, idErr = c.decodeKey(raw)
	}
	if raw, ok := fields["run_id"]; ok && idErr == nil {
		req.RunID, idErr = c.decodeKey(raw)
	}
	if raw, ok := fields["kwargs"]; ok && !isNull(raw) {
		if err := c.Decode(raw, &req.Kwargs); err != nil {
			return req, fmt.Errorf("%w: kwargs must be an object", ErrInvalidRequest)
		}
		if req.Kwargs == nil {
			req.Kwargs = map[string]any{}
		}
	}
	if idErr != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, idErr)
	}

	if raw, ok := fields["function"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.Function); err != nil {
			return req, fmt.Errorf("%w: function must be a string", ErrInvalidRequest)
		}
	}
	if raw, ok := fields["args"]; ok && !isNull(raw) {
		if err := c.Decode(raw, &req.Args); err != nil {
			return req, fmt.Errorf("%w: args must be an array", ErrInvalidRequest)
		}
	}
	if req.Args == nil {
		req.Args = []any{}
	}
	return req, nil
}

// decodeKey accepts a string or a number for id-like fields.
func (c *JSONCodec) decodeKey(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var v any
	if err := c.Decode(raw, &v); err != nil {
		return "", err
	}
	switch v.(type) {
	case string, json.Number:
		return message.Stringify(v), nil
	default:
		return "", fmt.Errorf("id must be a string or number")
	}
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
