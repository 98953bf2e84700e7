package crosstab

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

const feedBufferSize = 32

// ErrClosed is returned when publishing on a closed channel.
var ErrClosed = errors.New("crosstab: channel closed")

// Hub connects FeedChannels living in the same process.
type Hub struct {
	feed event.Feed
}

func NewHub() *Hub {
	return &Hub{}
}

// Channel returns a new endpoint attached to the hub.
func (h *Hub) Channel() *FeedChannel {
	return &FeedChannel{
		hub:  h,
		subs: make(map[int]event.Subscription),
	}
}

// FeedChannel is an in-process Channel backed by an event.Feed.
type FeedChannel struct {
	hub *Hub

	mu     sync.Mutex
	nextID int
	subs   map[int]event.Subscription
	closed bool
}

func (c *FeedChannel) Publish(ctx context.Context, msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.hub.feed.Send(msg)
	return nil
}

func (c *FeedChannel) Subscribe(fn func(Notification)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}

	ch := make(chan Message, feedBufferSize)
	sub := c.hub.feed.Subscribe(ch)
	id := c.nextID
	c.nextID++
	c.subs[id] = sub

	go func() {
		for {
			select {
			case msg := <-ch:
				fn(Notification{Message: &msg})
			case <-sub.Err():
				return
			}
		}
	}()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.Unsubscribe()
	}
}

func (c *FeedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, id)
	}
	return nil
}
