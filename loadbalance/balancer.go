// Package loadbalance picks which backend endpoint the next connection
// attempt dials when several are configured.
//
// Only one connection is live at a time, so a pick happens once per
// connect attempt: after a failure the next attempt moves on to the next
// endpoint instead of hammering the one that just failed.
package loadbalance

import "errors"

// ErrNoEndpoints is returned by Pick for an empty list.
var ErrNoEndpoints = errors.New("no endpoints available")

// Balancer is the interface for endpoint selection strategies.
type Balancer interface {
	// Pick selects one endpoint from the list. Must be goroutine-safe.
	Pick(endpoints []string) (string, error)

	// Name returns the strategy name (for logging).
	Name() string
}
