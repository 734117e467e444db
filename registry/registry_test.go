package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndResolve(t *testing.T) {
	r, err := New(
		Capability{Name: "navigate_to_url", Params: []Param{Required("url")}, Doc: "Navigate.", Func: noop},
		Capability{Name: "_internal", Func: noop},
		Capability{Name: "get_page_html", Func: noop},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"navigate_to_url", "get_page_html"}, r.Names())

	c, err := r.Resolve("navigate_to_url")
	require.NoError(t, err)
	assert.Equal(t, "Navigate.", c.Doc)

	_, err = r.Resolve("_internal")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDescriptors(t *testing.T) {
	r, err := New(
		Capability{Name: "click", Params: []Param{Required("locator_type"), Required("locator_value")}, Doc: "Click.", Func: noop},
		Capability{Name: "stop_driver", Func: noop},
	)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "click", list[0].Name)
	assert.Equal(t, []string{"locator_type", "locator_value"}, list[0].Args)
	assert.Equal(t, "Click.", list[0].Doc)
	assert.Empty(t, list[1].Args)
}

func TestNewRejectsBadRegistrations(t *testing.T) {
	tests := []struct {
		name string
		caps []Capability
	}{
		{"empty name", []Capability{{Func: noop}}},
		{"reserved", []Capability{{Name: "list_available_methods", Func: noop}}},
		{"nil func", []Capability{{Name: "click"}}},
		{"duplicate", []Capability{{Name: "click", Func: noop}, {Name: "click", Func: noop}}},
		{"run id param", []Capability{{Name: "click", Params: []Param{Required("run_id")}, Func: noop}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.caps...)
			assert.ErrorIs(t, err, ErrInvalidCapability)
		})
	}
}
