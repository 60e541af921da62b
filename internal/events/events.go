package events

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/sqlagent/internal/memory"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeMemorySaved   = "memory.saved"
	TypeMemoryEvicted = "memory.evicted"
)

// Event describes a change to the agent memory.
type Event struct {
	Type      string      `json:"type"`
	ItemID    string      `json:"item_id"`
	Kind      memory.Kind `json:"kind"`
	Scope     string      `json:"scope"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers memory events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
	Close() error
}

// Nop discards every event. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

// Forwarder adapts a Publisher to memory.Observer. Notifications are queued
// and published from a background goroutine so saves never wait on I/O.
// Events are dropped when the queue is full or the forwarder is closed.
type Forwarder struct {
	pub    Publisher
	queue  chan *Event
	done   chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
}

// NewForwarder starts a forwarder with room for buffer pending events.
func NewForwarder(pub Publisher, buffer int, logger *zap.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	f := &Forwarder{
		pub:    pub,
		queue:  make(chan *Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go f.run()
	return f
}

func (f *Forwarder) ItemSaved(it memory.Item)   { f.enqueue(TypeMemorySaved, it) }
func (f *Forwarder) ItemEvicted(it memory.Item) { f.enqueue(TypeMemoryEvicted, it) }

func (f *Forwarder) enqueue(typ string, it memory.Item) {
	ev := &Event{
		Type:      typ,
		ItemID:    it.ID,
		Kind:      it.Kind,
		Scope:     it.Scope,
		Seq:       it.Seq,
		Timestamp: time.Now().UTC(),
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.logger.Debug("forwarder closed, dropping event",
			zap.String("type", typ), zap.String("item_id", it.ID))
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.logger.Warn("event queue full, dropping event",
			zap.String("type", typ), zap.String("item_id", it.ID))
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for ev := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := f.pub.Publish(ctx, ev); err != nil {
			f.logger.Warn("publish memory event failed",
				zap.String("type", ev.Type), zap.String("item_id", ev.ItemID), zap.Error(err))
		}
		cancel()
	}
}

// Close drains pending events and waits for the worker to exit. Later
// notifications are dropped. Close may be called more than once.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	<-f.done
}
