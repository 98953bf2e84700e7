package crosstab

import (
	"context"
	"sync"

	"github.com/status-im/status-connect/storage"
)

// StorageChannel turns storage watcher events into ChangedKey notifications.
// It is the secondary sync path for processes that share a FileStore
// directory but no broadcast backend. Publishing is a no-op: the write to
// storage is the signal.
type StorageChannel struct {
	watcher *storage.Watcher

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Notification)

	done chan struct{}
	once sync.Once
}

// NewStorageChannel takes ownership of watcher.
func NewStorageChannel(watcher *storage.Watcher) *StorageChannel {
	c := &StorageChannel{
		watcher: watcher,
		subs:    make(map[int]func(Notification)),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *StorageChannel) loop() {
	defer close(c.done)
	for key := range c.watcher.Events() {
		c.mu.RLock()
		subs := make([]func(Notification), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.mu.RUnlock()

		for _, fn := range subs {
			fn(Notification{ChangedKey: key})
		}
	}
}

func (c *StorageChannel) Publish(context.Context, Message) error {
	return nil
}

func (c *StorageChannel) Subscribe(fn func(Notification)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *StorageChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.watcher.Close()
		<-c.done
	})
	return err
}
