// Package eventhub fans application events out to any number of
// subscribers, one per open SSE connection. Delivery is best-effort: a
// subscriber that stops draining its channel loses events rather than
// blocking publishers.
package eventhub

import (
	"sync"
)

const (
	TypeSongUpdate     = "song_update"
	TypePlaylistUpdate = "playlist_update"
	TypePlayerStatus   = "player_status"
	TypePlayerCommand  = "player_command"
	TypeToast          = "toast"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func New() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed when cancel is called.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

func (h *Hub) Publish(eventType string, data interface{}) {
	e := Event{Type: eventType, Data: data}

	h.mu.Lock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			// subscriber is full, drop
		}
	}
	h.mu.Unlock()
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}
