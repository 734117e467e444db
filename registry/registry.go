// Package registry holds the static capability table and the optional
// etcd-backed presence record announcing this agent.
//
// The table is built once at startup from an explicit list of
// capabilities and never changes while the gateway runs, so lookups need
// no locking:
//
//	New(caps...) ──► map[name]*Capability ──► Resolve("click")
//	                         └──────────────► List() (introspection)
package registry

import (
	"errors"
	"fmt"
	"strings"

	"remote-agent/message"
)

var (
	// ErrNotFound is returned by Resolve for unknown names.
	ErrNotFound = errors.New("capability not found")
	// ErrInvalidCapability is returned by New for a bad registration.
	ErrInvalidCapability = errors.New("invalid capability")
)

// Registry maps capability names to their entries.
type Registry struct {
	caps  map[string]*Capability
	order []string // Registration order, used by List
}

// New builds the registration table. Names with a leading underscore are
// internal and silently skipped.
func New(caps ...Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]*Capability, len(caps))}
	for i := range caps {
		c := caps[i]
		if strings.HasPrefix(c.Name, "_") {
			continue
		}
		switch {
		case c.Name == "":
			return nil, fmt.Errorf("%w: empty name", ErrInvalidCapability)
		case c.Name == message.ListMethods:
			return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidCapability, c.Name)
		case c.Func == nil:
			return nil, fmt.Errorf("%w: %q has no function", ErrInvalidCapability, c.Name)
		}
		if _, dup := r.caps[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidCapability, c.Name)
		}
		for _, p := range c.Params {
			if p.Name == message.RunIDKey || p.Name == message.LegacyRunIDKey {
				return nil, fmt.Errorf("%w: %q declares the run id as a parameter", ErrInvalidCapability, c.Name)
			}
		}
		r.caps[c.Name] = &c
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Resolve looks up a capability by name.
func (r *Registry) Resolve(name string) (*Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []message.MethodDescriptor {
	out := make([]message.MethodDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name].Descriptor())
	}
	return out
}

// Names returns capability names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.order)
}
