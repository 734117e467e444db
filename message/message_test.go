package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPrecedence(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"explicit id wins", Request{ID: "a", RunID: "b", Kwargs: map[string]any{RunIDKey: "c"}}, "a"},
		{"top-level run id", Request{RunID: "b", Kwargs: map[string]any{RunIDKey: "c"}}, "b"},
		{"kwargs run id", Request{Kwargs: map[string]any{RunIDKey: "42"}}, "42"},
		{"legacy kwargs key", Request{Kwargs: map[string]any{LegacyRunIDKey: "7"}}, "7"},
		{"numeric run id", Request{Kwargs: map[string]any{RunIDKey: json.Number("12")}}, "12"},
		{"none", Request{Function: "click"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.CorrelationID())
		})
	}
}

func TestResponseWireShape(t *testing.T) {
	data, err := json.Marshal(Success("42", "https://example.com"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","status":"success","result":"https://example.com"}`, string(data))

	data, err = json.Marshal(Success("7", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","status":"success","result":null}`, string(data))

	data, err = json.Marshal(&Response{Status: StatusSuccess, Methods: []MethodDescriptor{{Name: "click", Args: []string{}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","methods":[{"name":"click","args":[],"doc":""}]}`, string(data))

	data, err = json.Marshal(Failure("", "Invalid JSON received"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":"Invalid JSON received"}`, string(data))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, `["a"]`, Stringify([]any{"a"}))
}
