package subscriptions

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/status-im/status-connect/signal"
)

type SubscriptionID string

type cleanupFunc func() error

// MonitorFunc fetches the current value of a subscription.
type MonitorFunc func(ctx context.Context) (interface{}, error)

// Subscription polls its monitor and sends a signal whenever the value
// changes or the monitor fails.
type Subscription struct {
	id          SubscriptionID
	interval    time.Duration
	monitorFunc MonitorFunc
	cleanupFunc cleanupFunc

	last     interface{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSubscription(id SubscriptionID, interval time.Duration, monitor MonitorFunc, cleanup cleanupFunc) *Subscription {
	return &Subscription{
		id:          id,
		interval:    interval,
		monitorFunc: monitor,
		cleanupFunc: cleanup,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Subscription) ID() SubscriptionID {
	return s.id
}

func (s *Subscription) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ticker.C:
			s.poll(ctx)
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscription) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	data, err := s.monitorFunc(ctx)
	if err != nil {
		signal.SendSubscriptionErrorEvent(string(s.id), err)
		return
	}
	if reflect.DeepEqual(data, s.last) {
		return
	}
	s.last = data
	signal.SendSubscriptionDataEvent(string(s.id), data)
}

func (s *Subscription) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		<-s.done
		if s.cleanupFunc != nil {
			err = s.cleanupFunc()
		}
	})
	return err
}

func NewSubscriptionID(namespace, name string) SubscriptionID {
	return SubscriptionID(fmt.Sprintf("%s-%s", namespace, name))
}

type blockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// NewBlockMonitor reports the latest block number.
func NewBlockMonitor(client blockNumberReader) MonitorFunc {
	return func(ctx context.Context) (interface{}, error) {
		return client.BlockNumber(ctx)
	}
}
