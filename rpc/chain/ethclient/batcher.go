package ethclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

var ErrBatcherClosed = errors.New("batcher is closed")

type pendingCall struct {
	method string
	args   []interface{}
	raw    json.RawMessage
	err    error
	done   chan struct{}
}

// Batcher coalesces calls arriving within wait into a single batch request
// of at most size elements.
type Batcher struct {
	client  BatchCallClient
	size    int
	wait    time.Duration
	timeout time.Duration

	mu      sync.Mutex
	pending []*pendingCall
	timer   *time.Timer
	closed  bool
}

func NewBatcher(client BatchCallClient, size int, wait time.Duration, timeout time.Duration) *Batcher {
	return &Batcher{
		client:  client,
		size:    size,
		wait:    wait,
		timeout: timeout,
	}
}

func (b *Batcher) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	call := &pendingCall{
		method: method,
		args:   args,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}
	b.pending = append(b.pending, call)
	var batch []*pendingCall
	if len(b.pending) >= b.size {
		batch = b.takeLocked()
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.wait, b.flush)
	}
	b.mu.Unlock()

	if batch != nil {
		go b.send(batch)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if call.err != nil {
		return call.err
	}
	if result == nil || len(call.raw) == 0 {
		return nil
	}
	return json.Unmarshal(call.raw, result)
}

func (b *Batcher) takeLocked() []*pendingCall {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *Batcher) flush() {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.send(batch)
	}
}

func (b *Batcher) send(batch []*pendingCall) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	elems := make([]rpc.BatchElem, len(batch))
	for i, call := range batch {
		elems[i] = rpc.BatchElem{
			Method: call.method,
			Args:   call.args,
			Result: &call.raw,
		}
	}

	err := b.client.BatchCallContext(ctx, elems)
	for i, call := range batch {
		if err != nil {
			call.err = err
		} else {
			call.err = elems[i].Error
		}
		close(call.done)
	}
}

// Close fails pending calls with ErrBatcherClosed.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()

	for _, call := range batch {
		call.err = ErrBatcherClosed
		close(call.done)
	}
}
