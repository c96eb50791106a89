// Package live fans bridge events (fills, order status changes) out to
// real-time consumers over gRPC and WebSocket. Every message carries a
// sequence id from one shared counter so clients can detect gaps and resume.
package live

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one event published on the hub.
type Message struct {
	Topic   string    `json:"topic"`
	Seq     int64     `json:"seq"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// DefaultBacklog is the number of recent messages a Hub keeps for replay.
const DefaultBacklog = 1024

// Hub is an in-process pub/sub for bridge events with a bounded replay
// backlog. Slow subscribers lose messages rather than stall publishers.
type Hub struct {
	seq     atomic.Int64
	dropped atomic.Int64
	log     *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Message
	recent    []Message // ring of the last backlog messages, oldest first
	backlog   int
}

// NewHub creates a Hub keeping up to backlog messages for replay. A
// non-positive backlog uses DefaultBacklog.
func NewHub(backlog int, log *slog.Logger) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log.With("component", "live-hub"),
		subs:    make(map[int]chan Message),
		backlog: backlog,
	}
}

// NextSequenceID returns the next sequence id. Ids start at 1.
func (h *Hub) NextSequenceID() int64 {
	return h.seq.Add(1)
}

// Broadcast publishes payload under topic with a freshly allocated sequence id.
func (h *Hub) Broadcast(topic string, payload any) {
	h.BroadcastWithSequence(topic, payload, h.NextSequenceID())
}

// BroadcastWithSequence publishes payload under topic with the given
// sequence id.
func (h *Hub) BroadcastWithSequence(topic string, payload any, seq int64) {
	msg := Message{Topic: topic, Seq: seq, Time: time.Now().UTC(), Payload: payload}

	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	if len(h.recent) == h.backlog {
		h.recent = slices.Delete(h.recent, 0, 1)
	}
	h.recent = append(h.recent, msg)

	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
			h.log.Warn("subscriber lagging, message dropped", "sub_id", id, "topic", topic, "seq", seq)
		}
	}
}

// Subscribe creates a new subscription channel for live messages.
func (h *Hub) Subscribe(bufSize int) (id int, ch <-chan Message) {
	id, _, ch = h.SubscribeFrom(-1, bufSize)
	return id, ch
}

// SubscribeFrom creates a subscription and returns, atomically with it, the
// backlog messages whose sequence id is greater than after. A negative after
// returns no backlog.
func (h *Hub) SubscribeFrom(after int64, bufSize int) (id int, backlog []Message, ch <-chan Message) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	if after >= 0 {
		for _, m := range h.recent {
			if m.Seq > after {
				backlog = append(backlog, m)
			}
		}
	}
	id = h.nextSubID
	h.nextSubID++
	c := make(chan Message, bufSize)
	h.subs[id] = c
	return id, backlog, c
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Close unsubscribes every subscriber.
func (h *Hub) Close() {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	return len(h.subs)
}

// Dropped returns the total number of messages dropped for lagging subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// topicFilter returns a predicate matching the given topics; an empty list
// matches everything.
func topicFilter(topics []string) func(string) bool {
	if len(topics) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return func(t string) bool { return set[t] }
}
