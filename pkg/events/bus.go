// Package events provides the in-process publish/subscribe bus injected
// into the sync engine, scheduler, and agent runner. Implementations with
// external brokers can be substituted; this default is synchronous and
// allocation-light, matching an offline-first tool.
package events

import (
	"context"
	"sync"
)

// Event is a topic plus an open payload.
type Event struct {
	Topic   string
	Payload map[string]interface{}
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; long work belongs behind the handler.
type Handler func(ctx context.Context, e Event)

// Bus is the capability the core components depend on.
type Bus interface {
	Publish(ctx context.Context, e Event)
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// InMemoryBus is the default Bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers h for a topic. The empty topic subscribes to all
// events.
func (b *InMemoryBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

// Publish delivers e to topic subscribers and wildcard subscribers.
func (b *InMemoryBus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	var hs []Handler
	for _, h := range b.handlers[e.Topic] {
		hs = append(hs, h)
	}
	if e.Topic != "" {
		for _, h := range b.handlers[""] {
			hs = append(hs, h)
		}
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(ctx, e)
	}
}

// NopBus discards everything; useful as a default.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) {}

func (NopBus) Subscribe(string, Handler) func() { return func() {} }
