// Package progress broadcasts per-upload state records to SSE subscribers.
package progress

import (
	"log/slog"
	"sync"
)

// Record is one progress update. It mirrors the JSON streamed to status
// subscribers.
type Record struct {
	State        string `json:"state"`
	CurrentPage  int    `json:"current_page"`
	TotalPages   int    `json:"total_pages"`
	Message      string `json:"message,omitempty"`
	ExtractState string `json:"extract_state,omitempty"`
	Terminal     bool   `json:"-"`
}

// Subscriber receives records for one upload. Out is closed after the
// terminal record.
type Subscriber struct {
	Out chan Record
}

// channel is the per-upload broadcast state.
type channel struct {
	subs   map[*Subscriber]bool
	latest Record
	seeded bool
	closed bool
}

// Hub fans upload progress out to any number of subscribers. Publishing
// never blocks: a subscriber that cannot keep up is disconnected.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel
	log      *slog.Logger
}

// NewHub creates a Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]*channel),
		log:      log.With("component", "progress"),
	}
}

const subscriberBuffer = 16

// Subscribe attaches to an upload's channel. The latest record, if any, is
// delivered immediately. If the channel already closed the returned
// subscriber's Out is closed after replaying the final record.
func (h *Hub) Subscribe(uploadID string) *Subscriber {
	sub := &Subscriber{Out: make(chan Record, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channels[uploadID]
	if ch == nil {
		ch = &channel{subs: make(map[*Subscriber]bool)}
		h.channels[uploadID] = ch
	}

	if ch.seeded {
		sub.Out <- ch.latest
	}
	if ch.closed {
		close(sub.Out)
		return sub
	}
	ch.subs[sub] = true
	return sub
}

// Unsubscribe detaches a subscriber. Safe to call after the channel closed.
func (h *Hub) Unsubscribe(uploadID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channels[uploadID]
	if ch == nil || !ch.subs[sub] {
		return
	}
	delete(ch.subs, sub)
	close(sub.Out)
	h.maybeReap(uploadID, ch)
}

// Publish broadcasts a record. A terminal record closes every subscriber and
// frees the channel; subscribers arriving after that read the snapshot from
// the store instead.
func (h *Hub) Publish(uploadID string, rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channels[uploadID]
	if ch == nil {
		ch = &channel{subs: make(map[*Subscriber]bool)}
		h.channels[uploadID] = ch
	}
	if ch.closed {
		return
	}

	// Counter never goes backwards even if producers race.
	if rec.CurrentPage < ch.latest.CurrentPage {
		rec.CurrentPage = ch.latest.CurrentPage
	}
	ch.latest = rec
	ch.seeded = true

	for sub := range ch.subs {
		select {
		case sub.Out <- rec:
		default:
			if rec.Terminal {
				// Terminal must reach everyone still connected; drain
				// one slot so it fits.
				select {
				case <-sub.Out:
				default:
				}
				select {
				case sub.Out <- rec:
					continue
				default:
				}
			}
			h.log.Warn("dropping slow progress subscriber", "upload_id", uploadID)
			delete(ch.subs, sub)
			close(sub.Out)
		}
	}

	if rec.Terminal {
		ch.closed = true
		for sub := range ch.subs {
			close(sub.Out)
		}
		ch.subs = make(map[*Subscriber]bool)
		h.maybeReap(uploadID, ch)
	}
}

// Drop removes an upload's channel entirely, closing any subscribers.
// Used when an upload is deleted mid-flight.
func (h *Hub) Drop(uploadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channels[uploadID]
	if ch == nil {
		return
	}
	for sub := range ch.subs {
		close(sub.Out)
	}
	delete(h.channels, uploadID)
}

// maybeReap frees a closed channel with no subscribers. Callers hold h.mu.
func (h *Hub) maybeReap(uploadID string, ch *channel) {
	if ch.closed && len(ch.subs) == 0 {
		delete(h.channels, uploadID)
	}
}
