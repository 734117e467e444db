package registry

import (
	"context"
	"encoding/json"
	"testing"

	"remote-agent/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, call *Call) (any, error) { return nil, nil }

var sendKeys = &Capability{
	Name:   "send_keys",
	Params: []Param{Required("locator_type"), Required("locator_value"), Required("text")},
	Func:   noop,
}

var maximize = &Capability{
	Name:   "maximize_window",
	Params: []Param{Optional("width", 1920)},
	Func:   noop,
}

func TestBindPositionalAndKeyword(t *testing.T) {
	req := &message.Request{
		Function: "send_keys",
		Args:     []any{"id", "q"},
		Kwargs:   map[string]any{"text": "hello", "run_id": "42"},
	}

	call, err := Bind(sendKeys, req)
	require.NoError(t, err)

	assert.Equal(t, "42", call.RunID)
	assert.Equal(t, []NamedValue{
		{Name: "locator_type", Value: "id"},
		{Name: "locator_value", Value: "q"},
		{Name: "text", Value: "hello"},
	}, call.Values)
}

func TestBindDefaultRunID(t *testing.T) {
	call, err := Bind(maximize, &message.Request{Function: "maximize_window"})
	require.NoError(t, err)

	assert.Equal(t, DefaultRunID, call.RunID)
	assert.Equal(t, 1920, call.Value("width"))
}

func TestBindRunIDSources(t *testing.T) {
	call, err := Bind(maximize, &message.Request{RunID: "top", Kwargs: map[string]any{"run_id": "inner"}})
	require.NoError(t, err)
	assert.Equal(t, "top", call.RunID)

	call, err = Bind(maximize, &message.Request{Kwargs: map[string]any{"_run_test_id": json.Number("7")}})
	require.NoError(t, err)
	assert.Equal(t, "7", call.RunID)
}

func TestBindErrors(t *testing.T) {
	tests := []struct {
		name string
		req  *message.Request
		want string
	}{
		{
			"too many positionals",
			&message.Request{Args: []any{"a", "b", "c", "d"}},
			"send_keys() takes 3 positional arguments but 4 were given",
		},
		{
			"unexpected kwarg",
			&message.Request{Args: []any{"a", "b", "c"}, Kwargs: map[string]any{"delay": 1}},
			"send_keys() got an unexpected keyword argument 'delay'",
		},
		{
			"duplicate binding",
			&message.Request{Args: []any{"a", "b", "c"}, Kwargs: map[string]any{"text": "x"}},
			"send_keys() got multiple values for argument 'text'",
		},
		{
			"missing",
			&message.Request{Args: []any{"id"}},
			"send_keys() missing required argument(s): 'locator_value', 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(sendKeys, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestCallAccessors(t *testing.T) {
	call := &Call{Name: "f", Values: []NamedValue{
		{Name: "s", Value: "text"},
		{Name: "n", Value: json.Number("12")},
		{Name: "ns", Value: "34"},
		{Name: "nil", Value: nil},
		{Name: "list", Value: []any{1}},
	}}

	s, err := call.String("s")
	require.NoError(t, err)
	assert.Equal(t, "text", s)

	s, err = call.String("n")
	require.NoError(t, err)
	assert.Equal(t, "12", s)

	_, err = call.String("nil")
	assert.Error(t, err)
	_, err = call.String("list")
	assert.Error(t, err)

	n, err := call.Int("n")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = call.Int("ns")
	require.NoError(t, err)
	assert.Equal(t, 34, n)

	_, err = call.Int("s")
	assert.Error(t, err)
}
