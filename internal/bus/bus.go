// Package bus carries envelopes between the context that screens calls and
// the context that stores and displays alerts.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

// Handler consumes one envelope.
type Handler func(ctx context.Context, env event.Envelope) error

// Options configure a Bus.
type Options struct {
	// Buffer is the queue length (defaults to 256).
	Buffer int
	// OnError receives handler failures (by default they are dropped).
	OnError func(error)
}

type subscription struct {
	kind    event.Kind
	handler Handler
}

// Bus delivers envelopes to subscribers on a single goroutine, in publish
// order. Publish never blocks.
type Bus struct {
	queue   chan event.Envelope
	close   chan chan struct{}
	onError func(error)

	// state guards closed; publishers hold it shared while enqueueing.
	state  sync.RWMutex
	closed bool

	mu   sync.RWMutex
	subs []subscription
}

// New starts a bus.
func New(o Options) *Bus {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.OnError == nil {
		o.OnError = func(error) {}
	}
	b := &Bus{
		queue:   make(chan event.Envelope, o.Buffer),
		close:   make(chan chan struct{}),
		onError: o.OnError,
	}
	go b.loop()
	return b
}

// Subscribe registers h for kind. An empty kind receives every envelope.
func (b *Bus) Subscribe(kind event.Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{kind: kind, handler: h})
}

// Publish queues env. It reports false when the bus is closed or full.
func (b *Bus) Publish(env event.Envelope) bool {
	b.state.RLock()
	defer b.state.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- env:
		return true
	default:
		return false
	}
}

// Close delivers what is already queued and stops the bus.
func (b *Bus) Close() {
	b.state.Lock()
	if b.closed {
		b.state.Unlock()
		return
	}
	b.closed = true
	b.state.Unlock()

	done := make(chan struct{})
	b.close <- done
	<-done
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.state.RLock()
	defer b.state.RUnlock()
	return b.closed
}

func (b *Bus) loop() {
	ctx := context.Background()
	for {
		select {
		case env := <-b.queue:
			b.deliver(ctx, env)
		case done := <-b.close:
			b.drain(ctx)
			close(done)
			return
		}
	}
}

func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case env := <-b.queue:
			b.deliver(ctx, env)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, env event.Envelope) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kind != "" && s.kind != env.Kind {
			continue
		}
		if err := call(ctx, s.handler, env); err != nil {
			b.onError(err)
		}
	}
}

func call(ctx context.Context, h Handler, env event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: %s handler panicked: %v", env.Kind, r)
		}
	}()
	return h(ctx, env)
}

// Dedupe wraps h so that block envelopes whose event ID was among the last
// size IDs seen are dropped. Other kinds pass through.
func Dedupe(h Handler, size int) Handler {
	if size <= 0 {
		size = 1024
	}
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, size)
		ring = make([]string, 0, size)
	)
	return func(ctx context.Context, env event.Envelope) error {
		if env.Kind != event.KindBlocked {
			return h(ctx, env)
		}
		b, err := env.Block()
		if err != nil {
			return err
		}

		mu.Lock()
		if _, dup := seen[b.ID]; dup {
			mu.Unlock()
			return nil
		}
		if len(ring) == size {
			delete(seen, ring[0])
			ring = ring[1:]
		}
		ring = append(ring, b.ID)
		seen[b.ID] = struct{}{}
		mu.Unlock()

		return h(ctx, env)
	}
}
