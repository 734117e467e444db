package registry

import (
	"context"
	"time"
)

// AgentInstance is what an agent announces about itself.
type AgentInstance struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`    // Backend the agent dials
	Methods     []string  `json:"methods"`     // Registered capability names
	Concurrency int       `json:"concurrency"` // Admission limit per connection
	StartedAt   time.Time `json:"started_at"`
}

// Presence announces running agents so operators can find them.
type Presence interface {
	Announce(ctx context.Context, instance AgentInstance, ttl int64) error
	Withdraw(ctx context.Context, agentID string) error
	Discover(ctx context.Context) ([]AgentInstance, error)
	Close() error
}
