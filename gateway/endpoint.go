package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultBase is joined with a bare agent identifier.
const DefaultBase = "wss://beta.barkoagent.com/ws/"

// ErrInvalidEndpoint is returned for anything that is not a ws:// or wss:// URL.
var ErrInvalidEndpoint = errors.New("invalid websocket endpoint")

// ResolveEndpoint turns a configured value into a dialable URL. Full
// ws:// or wss:// values are used verbatim; anything else is an identifier
// appended to base with exactly one "/" between them.
func ResolveEndpoint(value, base string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}

	uri := value
	if !isWebSocketURL(value) {
		if base == "" {
			base = DefaultBase
		}
		uri = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(value, "/")
	}

	if !isWebSocketURL(uri) {
		return "", fmt.Errorf("%w: %s", ErrInvalidEndpoint, uri)
	}
	return uri, nil
}

// ResolveEndpoints resolves a comma separated list, skipping blanks.
func ResolveEndpoints(value, base string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		uri, err := ResolveEndpoint(part, base)
		if err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}
	return out, nil
}

func isWebSocketURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}
