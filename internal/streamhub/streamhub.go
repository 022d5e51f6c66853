// Package streamhub implements the pub/sub fan-out hub: one ordered
// stream per (channel, symbol), bounded per-subscriber queues, and a
// per-channel backpressure policy (coalesce-latest for quote/depth,
// never-drop for trade/order/position, where a subscriber still full after
// a short grace period is disconnected).
package streamhub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// neverDropGrace bounds how long Publish will block trying to deliver to a
// PolicyNeverDrop subscriber before giving up and disconnecting it.
const neverDropGrace = 25 * time.Millisecond

// Channel names the kind of event a subscriber wants.
type Channel string

const (
	ChannelQuote     Channel = "quote"     // oracle mark-price updates, coalesced
	ChannelDepth     Channel = "depth"     // book-depth-change, coalesced
	ChannelTrade     Channel = "trade"     // trade prints, never dropped
	ChannelOrder     Channel = "order"     // order-accepted / order-terminal, never dropped
	ChannelPosition  Channel = "position"  // position-update, never dropped
)

// Policy governs what happens when a subscriber's queue is full.
type Policy int8

const (
	// PolicyCoalesce keeps only the newest pending message per (channel,
	// symbol), overwriting whatever is queued.
	PolicyCoalesce Policy = iota
	// PolicyNeverDrop blocks the publisher up to a short grace period, then
	// disconnects the subscriber rather than lose the message.
	PolicyNeverDrop
)

func policyFor(ch Channel) Policy {
	switch ch {
	case ChannelQuote, ChannelDepth:
		return PolicyCoalesce
	default:
		return PolicyNeverDrop
	}
}

// Event is one published message. Payload is opaque to the hub; callers
// (internal/matching, internal/oracle) pass whatever DTO their consumers
// expect.
type Event struct {
	Channel Channel
	Symbol  string
	Seq     int64
	Payload any
}

// Subscription is a live fan-out target. Close unregisters it.
type Subscription struct {
	ID      string
	C       <-chan Event
	hub     *Hub
	channel Channel
	symbol  string
}

// Close unregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

type subscriber struct {
	id      string
	channel Channel
	symbol  string
	ch      chan Event
}

// Hub fans out events to subscribers grouped by (channel, symbol). Publish
// ordering within a single (channel, symbol) stream is preserved; there is
// no cross-stream ordering guarantee.
type Hub struct {
	queueDepth int

	mu   sync.RWMutex
	subs map[string]map[string]*subscriber // key(channel,symbol) -> id -> subscriber

	seqMu sync.Mutex
	seqs  map[string]int64 // key(channel,symbol) -> next seq
}

// New creates a Hub; queueDepth bounds each subscriber's channel.
func New(queueDepth int) *Hub {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Hub{
		queueDepth: queueDepth,
		subs:       make(map[string]map[string]*subscriber),
		seqs:       make(map[string]int64),
	}
}

func streamKey(ch Channel, symbol string) string {
	return string(ch) + ":" + symbol
}

// Subscribe registers interest in (channel, symbol) and returns a handle
// whose C delivers events in publish order for that stream.
func (h *Hub) Subscribe(channel Channel, symbol string) *Subscription {
	sub := &subscriber{
		id:      uuid.NewString(),
		channel: channel,
		symbol:  symbol,
		ch:      make(chan Event, h.queueDepth),
	}

	key := streamKey(channel, symbol)
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]*subscriber)
	}
	h.subs[key][sub.id] = sub
	h.mu.Unlock()

	return &Subscription{ID: sub.id, C: sub.ch, hub: h, channel: channel, symbol: symbol}
}

func (h *Hub) unsubscribe(s *Subscription) {
	key := streamKey(s.channel, s.symbol)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[key]
	if !ok {
		return
	}
	if sub, ok := subs[s.ID]; ok {
		close(sub.ch)
		delete(subs, s.ID)
	}
	if len(subs) == 0 {
		delete(h.subs, key)
	}
}

// Publish fans event out to every (channel, symbol) subscriber. Publish
// assigns Seq itself, monotonically per (channel, symbol) stream, so every
// record a subscriber sees carries a gapless sequence regardless of what
// the caller set.
func (h *Hub) Publish(event Event) {
	key := streamKey(event.Channel, event.Symbol)
	event.Seq = h.nextSeq(key)

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs[key]))
	for _, s := range h.subs[key] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	policy := policyFor(event.Channel)
	for _, s := range subs {
		switch policy {
		case PolicyCoalesce:
			h.deliverCoalesced(s, event)
		default:
			h.deliverNeverDrop(s, event)
		}
	}
}

func (h *Hub) nextSeq(key string) int64 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	seq := h.seqs[key]
	h.seqs[key] = seq + 1
	return seq
}

func (h *Hub) deliverCoalesced(s *subscriber, event Event) {
	select {
	case s.ch <- event:
		return
	default:
	}
	// queue full: drain every pending message and replace them with the
	// latest, guaranteeing the subscriber always eventually sees the
	// freshest quote/depth rather than a stale backlog. If the consumer
	// is draining and refilling concurrently this attempt can also lose
	// the race; the next publish will still carry the latest value.
drain:
	for {
		select {
		case <-s.ch:
		default:
			break drain
		}
	}
	select {
	case s.ch <- event:
	default:
	}
}

// deliverNeverDrop blocks the publisher up to neverDropGrace waiting for
// room in the subscriber's queue. If the subscriber is still backpressured
// after the grace period, it is disconnected rather than stalling Publish
// indefinitely.
func (h *Hub) deliverNeverDrop(s *subscriber, event Event) {
	select {
	case s.ch <- event:
		return
	case <-time.After(neverDropGrace):
	}
	log.Printf("streamhub: subscriber %s backpressured on %s:%s past grace period, disconnecting", s.id, event.Channel, event.Symbol)
	h.disconnect(s)
}

func (h *Hub) disconnect(s *subscriber) {
	key := streamKey(s.channel, s.symbol)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[key]
	if !ok {
		return
	}
	if cur, ok := subs[s.id]; ok && cur == s {
		close(cur.ch)
		delete(subs, s.id)
	}
}
