package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
)

type Subscriptions struct {
	mu       sync.Mutex
	interval time.Duration
	subs     map[SubscriptionID]*Subscription
}

func NewSubscriptions(interval time.Duration) *Subscriptions {
	return &Subscriptions{
		interval: interval,
		subs:     make(map[SubscriptionID]*Subscription),
	}
}

// Create starts polling monitor. The subscription stops with ctx or Remove.
func (s *Subscriptions) Create(ctx context.Context, namespace, name string, monitor MonitorFunc, cleanup cleanupFunc) (SubscriptionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewSubscriptionID(namespace, name)
	if _, found := s.subs[id]; found {
		return "", fmt.Errorf("subscription %s already exists", id)
	}

	sub := NewSubscription(id, s.interval, monitor, cleanup)
	s.subs[id] = sub
	sub.Start(ctx)

	return id, nil
}

func (s *Subscriptions) Remove(id SubscriptionID) error {
	s.mu.Lock()
	sub, found := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !found {
		return nil
	}
	return sub.Stop()
}

func (s *Subscriptions) RemoveAll() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[SubscriptionID]*Subscription)
	s.mu.Unlock()

	var err error
	for id, sub := range subs {
		if stopErr := sub.Stop(); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", id, stopErr))
		}
	}
	if err != nil {
		return fmt.Errorf("errors while cleaning up subscriptions: %w", err)
	}
	return nil
}

func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
