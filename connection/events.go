package connection

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

type listener struct {
	id int
	fn func(WalletEvent)
}

// emitter dispatches typed events to per type listeners and to feed
// subscribers.
type emitter struct {
	logger *zap.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[EventType][]listener

	feed event.Feed
}

func newEmitter(logger *zap.Logger) *emitter {
	return &emitter{
		logger:    logger,
		listeners: make(map[EventType][]listener),
	}
}

func (e *emitter) on(typ EventType, fn func(WalletEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[typ] = append(e.listeners[typ], listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.off(typ, id) })
	}
}

func (e *emitter) off(typ EventType, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.listeners[typ]
	next := make([]listener, 0, len(current))
	for _, l := range current {
		if l.id != id {
			next = append(next, l)
		}
	}
	e.listeners[typ] = next
}

func (e *emitter) subscribe(ch chan<- WalletEvent) event.Subscription {
	return e.feed.Subscribe(ch)
}

// emit delivers ev to the listeners of its type and, for every type except
// metrics-updated, to the wallet-event listeners and the feed.
func (e *emitter) emit(ev WalletEvent) {
	e.dispatch(ev.Type, ev)
	if ev.Type == EventMetricsUpdated {
		return
	}
	e.dispatch(EventWallet, ev)
	e.feed.Send(ev.clone())
}

func (e *emitter) dispatch(typ EventType, ev WalletEvent) {
	e.mu.RLock()
	listeners := e.listeners[typ]
	e.mu.RUnlock()

	for _, l := range listeners {
		e.call(typ, l.fn, ev.clone())
	}
}

func (e *emitter) call(typ EventType, fn func(WalletEvent), ev WalletEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked", zap.String("event", string(typ)), zap.Any("panic", r))
		}
	}()
	fn(ev)
}
