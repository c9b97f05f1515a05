package daemon

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
)

// Event is one named SSE message.
type Event struct {
	Name string
	Data any
}

// subscriberBuffer is how many undelivered events a client may lag
// behind before it is dropped.
const subscriberBuffer = 64

// Broadcaster fans events out to every connected SSE client. A
// subscriber that cannot keep up is dropped silently.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	onCount func(n int)
	log     *log.Logger
}

// NewBroadcaster returns an empty broadcaster. onCount, when non-nil,
// observes every subscriber-count change; the idle timer hangs off it.
func NewBroadcaster(logger *log.Logger, onCount func(n int)) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[int]chan Event),
		onCount: onCount,
		log:     logger,
	}
}

// Subscribe registers a client and returns its channel plus an
// unsubscribe func. The channel closes on unsubscribe or shutdown.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	b.countChanged(n)
	return ch, func() { b.drop(id) }
}

func (b *Broadcaster) drop(id int) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	n := len(b.subs)
	closed := b.closed
	b.mu.Unlock()

	if ok && !closed {
		b.countChanged(n)
	}
}

func (b *Broadcaster) countChanged(n int) {
	if b.onCount != nil {
		b.onCount(n)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast delivers one event to every subscriber. Full subscriber
// buffers mean a dead or wedged client; those are dropped here.
func (b *Broadcaster) Broadcast(name string, data any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var dropped []int
	for id, ch := range b.subs {
		select {
		case ch <- Event{Name: name, Data: data}:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		close(b.subs[id])
		delete(b.subs, id)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if len(dropped) > 0 {
		b.log.Printf("dropped %d slow sse subscriber(s)", len(dropped))
		b.countChanged(n)
	}
}

// Close shuts every stream; further Broadcast calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// writeSSEEvent serialises one event in wire format.
func writeSSEEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
