package registry

// EtcdPresence implements Presence on etcd v3.
//
//	Key:   /remote-agent/agents/{AgentID}
//	Value: JSON-encoded AgentInstance
//
// Announcements ride on a TTL lease kept alive in the background; if the
// agent dies the lease expires and the entry disappears on its own.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const presencePrefix = "/remote-agent/agents/"

// EtcdPresence keeps one lease per announced agent id.
type EtcdPresence struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

// NewEtcdPresence connects to the given etcd endpoints.
func NewEtcdPresence(endpoints []string, logger *zap.Logger) (*EtcdPresence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}
	return &EtcdPresence{
		client: c,
		logger: logger.With(zap.String("component", "presence")),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Announce writes the instance under a lease with the given TTL and keeps
// the lease alive until Withdraw, Close or ctx cancellation.
func (p *EtcdPresence) Announce(ctx context.Context, instance AgentInstance, ttl int64) error {
	lease, err := p.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err := p.client.Put(ctx, presencePrefix+instance.ID, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put presence: %w", err)
	}

	ch, err := p.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}

	p.mu.Lock()
	p.leases[instance.ID] = lease.ID
	p.mu.Unlock()

	// Drain keepalive responses so the channel never fills up
	go func() {
		for range ch {
		}
		p.logger.Debug("presence keepalive stopped", zap.String("agent_id", instance.ID))
	}()

	p.logger.Info("presence announced",
		zap.String("agent_id", instance.ID),
		zap.Int64("ttl", ttl))
	return nil
}

// Withdraw revokes the agent's lease, which deletes its key.
func (p *EtcdPresence) Withdraw(ctx context.Context, agentID string) error {
	p.mu.Lock()
	leaseID, ok := p.leases[agentID]
	delete(p.leases, agentID)
	p.mu.Unlock()

	if ok {
		if _, err := p.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("revoke lease: %w", err)
		}
		return nil
	}
	_, err := p.client.Delete(ctx, presencePrefix+agentID)
	return err
}

// Discover lists every announced agent.
func (p *EtcdPresence) Discover(ctx context.Context) ([]AgentInstance, error) {
	resp, err := p.client.Get(ctx, presencePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]AgentInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance AgentInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close releases the etcd client.
func (p *EtcdPresence) Close() error {
	return p.client.Close()
}
