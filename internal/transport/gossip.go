package transport

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/dignetwork/dignode/pkg/digcore"
)

// GossipAdapter implements digcore.GossipBus over a *pubsub.PubSub,
// joining topics lazily and caching the *pubsub.Topic handle per topic
// name so repeated Subscribe/Publish calls don't rejoin.
type GossipAdapter struct {
	ps *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewGossipAdapter wraps ps.
func NewGossipAdapter(ps *pubsub.PubSub) *GossipAdapter {
	return &GossipAdapter{ps: ps, topics: make(map[string]*pubsub.Topic)}
}

func (g *GossipAdapter) topic(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("gossip: join topic %s: %w", name, err)
	}
	g.topics[name] = t
	return t, nil
}

// Subscribe joins topic if needed and returns a live subscription.
func (g *GossipAdapter) Subscribe(ctx context.Context, topicName string) (digcore.Subscription, error) {
	t, err := g.topic(topicName)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("gossip: subscribe to %s: %w", topicName, err)
	}
	return &subscriptionAdapter{sub: sub}, nil
}

// Publish joins topic if needed and publishes data to it.
func (g *GossipAdapter) Publish(ctx context.Context, topicName string, data []byte) error {
	t, err := g.topic(topicName)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("gossip: publish to %s: %w", topicName, err)
	}
	return nil
}

type subscriptionAdapter struct{ sub *pubsub.Subscription }

func (s *subscriptionAdapter) Next(ctx context.Context) ([]byte, digcore.PeerID, error) {
	msg, err := s.sub.Next(ctx)
	if err != nil {
		return nil, "", err
	}
	return msg.Data, msg.GetFrom(), nil
}

func (s *subscriptionAdapter) Cancel() { s.sub.Cancel() }
