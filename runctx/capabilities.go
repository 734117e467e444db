package runctx

import (
	"context"

	"remote-agent/registry"
)

// Capabilities returns the variable capabilities backed by s.
func (s *Store) Capabilities() []registry.Capability {
	return []registry.Capability{
		{
			Name:   "set_variable",
			Params: []registry.Param{registry.Required("name"), registry.Required("value")},
			Doc:    "Stores a value under name for this run so later steps can read it back.",
			Record: true,
			Func: func(ctx context.Context, call *registry.Call) (any, error) {
				name, err := call.String("name")
				if err != nil {
					return nil, err
				}
				if err := s.Get(call.RunID).SetVariable(ctx, name, call.Value("value")); err != nil {
					return nil, err
				}
				return "variable set", nil
			},
		},
		{
			Name:   "get_variable",
			Params: []registry.Param{registry.Required("name")},
			Doc:    "Returns the value stored under name for this run.",
			Func: func(ctx context.Context, call *registry.Call) (any, error) {
				name, err := call.String("name")
				if err != nil {
					return nil, err
				}
				return s.Get(call.RunID).Variable(ctx, name)
			},
		},
		{
			Name:   "delete_variable",
			Params: []registry.Param{registry.Required("name")},
			Doc:    "Removes the value stored under name for this run.",
			Record: true,
			Func: func(ctx context.Context, call *registry.Call) (any, error) {
				name, err := call.String("name")
				if err != nil {
					return nil, err
				}
				if err := s.Get(call.RunID).DeleteVariable(ctx, name); err != nil {
					return nil, err
				}
				return "variable deleted", nil
			},
		},
	}
}
