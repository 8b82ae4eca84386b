// Package event provides the in-process lifecycle event hub: engine
// components publish api.Event values, registered subscribers receive them
// sequentially, and streaming consumers (the websocket server) attach
// directly to the underlying topic
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// Hub fans engine lifecycle events out to subscribers
	Hub struct {
		queue    topic.Topic[api.Event]
		prod     topic.Producer[api.Event]
		cons     topic.Consumer[api.Event]
		stop     chan struct{}
		stopOnce sync.Once
		started  sync.Once
		runWG    sync.WaitGroup
		mu       sync.RWMutex
		subs     []Subscriber

		// pending counts events accepted but not yet dispatched. The
		// topic forwards to consumers asynchronously, so Flush must not
		// treat an empty consumer channel as an empty topic
		pending atomic.Int64
	}

	// Subscriber handles one published event. Subscribers run sequentially
	// on the hub's dispatch goroutine
	Subscriber func(api.Event)
)

// NewHub creates a new lifecycle event hub
func NewHub() *Hub {
	queue := caravan.NewTopic[api.Event]()
	return &Hub{
		queue: queue,
		prod:  queue.NewProducer(),
		cons:  queue.NewConsumer(),
		stop:  make(chan struct{}),
	}
}

// Start begins dispatching published events to subscribers
func (h *Hub) Start() {
	h.started.Do(func() {
		h.runWG.Go(func() {
			for {
				select {
				case <-h.stop:
					return
				case ev, ok := <-h.cons.Receive():
					if !ok {
						return
					}
					h.pending.Add(-1)
					h.dispatch(ev)
				}
			}
		})
	})
}

// Publish queues an event for delivery
func (h *Hub) Publish(ev api.Event) {
	if ev.Type == "" {
		return
	}
	h.pending.Add(1)
	message.Send(h.prod, ev)
}

// Subscribe registers a subscriber for all published events
func (h *Hub) Subscribe(fn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// NewConsumer attaches a streaming consumer to the hub's topic. The caller
// owns the consumer and must close it
func (h *Hub) NewConsumer() topic.Consumer[api.Event] {
	return h.queue.NewConsumer()
}

// Flush delivers remaining events and stops the hub. The drain blocks
// until every accepted event has been dispatched: the topic's internal
// forwarding may still be in flight when the dispatch loop exits
func (h *Hub) Flush() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.runWG.Wait()
	for h.pending.Load() > 0 {
		ev, ok := <-h.cons.Receive()
		if !ok {
			break
		}
		h.pending.Add(-1)
		h.dispatch(ev)
	}
	h.close()
}

func (h *Hub) close() {
	h.prod.Close()
	h.cons.Close()
}

func (h *Hub) dispatch(ev api.Event) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	for _, fn := range subs {
		h.deliver(fn, ev)
	}
}

func (h *Hub) deliver(fn Subscriber, ev api.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panic",
				slog.String("event_type", string(ev.Type)),
				slog.Any("panic", r))
		}
	}()
	fn(ev)
}
