package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		value string
		base  string
		want  string
	}{
		{"full wss kept verbatim", "wss://control.example.com/ws/agent-1", DefaultBase, "wss://control.example.com/ws/agent-1"},
		{"full ws kept verbatim", "ws://localhost:8000/ws/x/", DefaultBase, "ws://localhost:8000/ws/x/"},
		{"identifier joined", "agent-1", DefaultBase, "wss://beta.barkoagent.com/ws/agent-1"},
		{"single slash when both sides have one", "/agent-1", "wss://h/ws/", "wss://h/ws/agent-1"},
		{"single slash when neither side has one", "agent-1", "wss://h/ws", "wss://h/ws/agent-1"},
		{"empty base falls back to default", "agent-1", "", "wss://beta.barkoagent.com/ws/agent-1"},
		{"surrounding space trimmed", "  agent-1 ", DefaultBase, "wss://beta.barkoagent.com/ws/agent-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tt.value, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEndpointInvalid(t *testing.T) {
	_, err := ResolveEndpoint("", DefaultBase)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = ResolveEndpoint("agent-1", "https://example.com/ws/")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestResolveEndpoints(t *testing.T) {
	got, err := ResolveEndpoints("a, wss://b.example.com/ws/b,,", "wss://h/ws/")
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://h/ws/a", "wss://b.example.com/ws/b"}, got)

	_, err = ResolveEndpoints(" , ", "wss://h/ws/")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
