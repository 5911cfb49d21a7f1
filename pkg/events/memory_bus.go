package events

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher used by tests.
type MemoryBus struct {
	mu      sync.Mutex
	sent    []MessageSent
	cancels []MessageCancel
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) PublishMessageSent(ctx context.Context, evt MessageSent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, evt)
	return nil
}

func (b *MemoryBus) PublishMessageCancel(ctx context.Context, evt MessageCancel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, evt)
	return nil
}

func (b *MemoryBus) Sent() []MessageSent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MessageSent(nil), b.sent...)
}

func (b *MemoryBus) Cancels() []MessageCancel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MessageCancel(nil), b.cancels...)
}
