package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"remote-agent/message"
)

// DefaultRunID is used when a request names no run.
const DefaultRunID = "1"

// Func is the invocable behind a capability. The returned value is sent as
// the response result and must be JSON-serializable.
type Func func(ctx context.Context, call *Call) (any, error)

// Param declares one capability parameter. The run id is never a Param.
type Param struct {
	Name     string
	Default  any
	Optional bool
}

// Required declares a parameter that must be supplied.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, Optional: true}
}

// Capability is one entry of the registration table.
type Capability struct {
	Name   string
	Params []Param
	Doc    string
	Record bool // Append successful calls to the replay log
	Func   Func
}

// Descriptor returns the introspection view of the capability.
func (c *Capability) Descriptor() message.MethodDescriptor {
	args := make([]string, 0, len(c.Params))
	for _, p := range c.Params {
		args = append(args, p.Name)
	}
	return message.MethodDescriptor{Name: c.Name, Args: args, Doc: c.Doc}
}

// NamedValue is a bound argument, kept in declaration order.
type NamedValue struct {
	Name  string
	Value any
}

// Call is a request bound against a capability's declared parameters.
type Call struct {
	Name   string
	RunID  string
	Values []NamedValue
}

// Bind maps positional args onto params in order and kwargs by name.
// Run id keys are removed from kwargs and surface as Call.RunID.
func Bind(c *Capability, req *message.Request) (*Call, error) {
	call := &Call{Name: c.Name, RunID: runIDOf(req)}

	if len(req.Args) > len(c.Params) {
		return nil, fmt.Errorf("%s() takes %d positional arguments but %d were given", c.Name, len(c.Params), len(req.Args))
	}

	bound := make(map[string]any, len(c.Params))
	for i, v := range req.Args {
		bound[c.Params[i].Name] = v
	}

	for k, v := range req.Kwargs {
		if k == message.RunIDKey || k == message.LegacyRunIDKey {
			continue
		}
		if !c.hasParam(k) {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument '%s'", c.Name, k)
		}
		if _, dup := bound[k]; dup {
			return nil, fmt.Errorf("%s() got multiple values for argument '%s'", c.Name, k)
		}
		bound[k] = v
	}

	var missing []string
	call.Values = make([]NamedValue, 0, len(c.Params))
	for _, p := range c.Params {
		v, ok := bound[p.Name]
		if !ok {
			if !p.Optional {
				missing = append(missing, "'"+p.Name+"'")
				continue
			}
			v = p.Default
		}
		call.Values = append(call.Values, NamedValue{Name: p.Name, Value: v})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s() missing required argument(s): %s", c.Name, strings.Join(missing, ", "))
	}
	return call, nil
}

func (c *Capability) hasParam(name string) bool {
	for _, p := range c.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func runIDOf(req *message.Request) string {
	if req.RunID != "" {
		return req.RunID
	}
	for _, key := range []string{message.RunIDKey, message.LegacyRunIDKey} {
		if v, ok := req.Kwargs[key]; ok && v != nil {
			if s := message.Stringify(v); s != "" {
				return s
			}
		}
	}
	return DefaultRunID
}

// Value returns the bound value for name, nil if absent.
func (c *Call) Value(name string) any {
	for _, nv := range c.Values {
		if nv.Name == name {
			return nv.Value
		}
	}
	return nil
}

// String returns name as a string. Numbers are rendered, nil is an error.
func (c *Call) String(name string) (string, error) {
	switch v := c.Value(name).(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("%s: argument '%s' is required", c.Name, name)
	case json.Number, float64, bool:
		return message.Stringify(v), nil
	default:
		return "", fmt.Errorf("%s: argument '%s' must be a string, got %T", c.Name, name, v)
	}
}

// Int returns name as an int, accepting JSON numbers and numeric strings.
func (c *Call) Int(name string) (int, error) {
	switch v := c.Value(name).(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: argument '%s': %w", c.Name, name, err)
		}
		return int(n), nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: argument '%s': %w", c.Name, name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: argument '%s' must be an integer, got %T", c.Name, name, v)
	}
}
