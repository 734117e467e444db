package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"remote-agent/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecDecodeRequest(t *testing.T) {
	c := &JSONCodec{}

	req, err := c.DecodeRequest([]byte(`{"function":"navigate_to_url","args":["https://example.com"],"kwargs":{"run_id":"42"}}`))
	require.NoError(t, err)

	assert.Equal(t, "navigate_to_url", req.Function)
	assert.Equal(t, []any{"https://example.com"}, req.Args)
	assert.Equal(t, "42", req.CorrelationID())
}

func TestJSONCodecNullFields(t *testing.T) {
	c := &JSONCodec{}

	req, err := c.DecodeRequest([]byte(`{"function":"get_page_html","args":null,"kwargs":null}`))
	require.NoError(t, err)
	assert.NotNil(t, req.Args)
	assert.NotNil(t, req.Kwargs)
	assert.Empty(t, req.CorrelationID())
}

func TestJSONCodecNumbersStayExact(t *testing.T) {
	c := &JSONCodec{}

	req, err := c.DecodeRequest([]byte(`{"id":9007199254740993,"function":"f","args":[12345678901234567890]}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", req.ID)
	assert.Equal(t, json.Number("12345678901234567890"), req.Args[0])
}

func TestJSONCodecInvalidJSON(t *testing.T) {
	c := &JSONCodec{}

	for _, input := range []string{"", "   ", "not json", `{"function":`} {
		req, err := c.DecodeRequest([]byte(input))
		assert.Nil(t, req, "input %q", input)
		assert.True(t, errors.Is(err, ErrInvalidJSON), "input %q: %v", input, err)
	}
}

func TestJSONCodecInvalidRequestKeepsID(t *testing.T) {
	c := &JSONCodec{}

	req, err := c.DecodeRequest([]byte(`{"function":"click","args":"oops","kwargs":{"run_id":"9"}}`))
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.NotNil(t, req)
	assert.Equal(t, "9", req.CorrelationID())

	_, err = c.DecodeRequest([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestJSONCodecEncodeResponse(t *testing.T) {
	c := &JSONCodec{}

	data, err := c.EncodeResponse(message.Success("42", "https://example.com"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","status":"success","result":"https://example.com"}`, string(data))
}
