package telemetry

import (
	"encoding/json"
	"log"
	"sync"
)

// Message is the serialized shape every subscriber receives:
// {"type": <group name>, "data": <snapshot>}. The priming message sent on
// subscribe uses type "snapshot" with all groups as data.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FullStateType is the Message.Type of the priming message.
const FullStateType = "snapshot"

// sinkBacklog is each subscriber's send buffer. A sink that falls this far
// behind is treated as failed and pruned.
const sinkBacklog = 64

// Sink is one subscriber's delivery queue. The channel is closed when the
// sink is unsubscribed or pruned.
type Sink struct {
	ch chan []byte
}

// Messages yields serialized messages in publish order.
func (s *Sink) Messages() <-chan []byte { return s.ch }

// Hub fans group updates out to subscribers: fire and forget, prune on
// failure. No retry, no backlog beyond each sink's buffer.
type Hub struct {
	store *Store

	mu    sync.Mutex
	sinks map[*Sink]struct{}
}

func NewHub(store *Store) *Hub {
	return &Hub{store: store, sinks: make(map[*Sink]struct{})}
}

// Subscribe registers a new sink. Its first message is the full current
// snapshot store, so a fresh subscriber is never blank while waiting for
// the next periodic update.
func (h *Hub) Subscribe() *Sink {
	sink := &Sink{ch: make(chan []byte, sinkBacklog)}

	// Prime and register under one lock: a concurrent Publish either ran
	// before this section and its snapshot is in the store, or it waits and
	// delivers to the registered sink. Nothing lands in between.
	h.mu.Lock()
	if data, err := json.Marshal(Message{Type: FullStateType, Data: h.store.All()}); err == nil {
		sink.ch <- data
	}
	h.sinks[sink] = struct{}{}
	n := len(h.sinks)
	h.mu.Unlock()

	log.Printf("[hub] subscriber added (%d total)", n)
	return sink
}

// Unsubscribe removes a sink and closes its channel. Safe to call for an
// already-pruned sink.
func (h *Hub) Unsubscribe(sink *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sink)
}

// Publish attempts delivery of one group update to every registered sink.
// A sink whose buffer cannot accept the message is removed; other sinks are
// unaffected.
func (h *Hub) Publish(group string, snap Snapshot) {
	data, err := json.Marshal(Message{Type: group, Data: snap})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sink := range h.sinks {
		select {
		case sink.ch <- data:
		default:
			log.Printf("[hub] subscriber not accepting messages, pruning")
			h.remove(sink)
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(sink *Sink) {
	if _, ok := h.sinks[sink]; ok {
		delete(h.sinks, sink)
		close(sink.ch)
	}
}
