// Package pubsub implements the in-memory topic fan-out used by the
// server broker's Publish path (§4.6), grounded on buncast's
// internal/broker.Broker and extended with a per-subscriber
// high-water mark (§5 Backpressure).
package pubsub

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/kartikbazzad/bunrpc/internal/rpcmetrics"
)

// Subscriber receives fan-out publications for the topics it joined.
type Subscriber interface {
	Send(topic string, payload []byte)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(topic string, payload []byte)

func (f SubscriberFunc) Send(topic string, payload []byte) { f(topic, payload) }

// limitedSubscriber wraps a Subscriber with an optional rate limiter
// gating how often it accepts publications; denied publications are
// dropped and counted rather than blocking the publisher.
type limitedSubscriber struct {
	sub     Subscriber
	limiter *rate.Limiter
}

// Broker is a process-wide topic registry shared by every connection
// the server broker serves.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]*limitedSubscriber
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{topics: make(map[string]map[Subscriber]*limitedSubscriber)}
}

// Subscribe joins sub to topic. highWaterMark, if positive, bounds how
// many publications per second sub accepts on this topic before
// publications are dropped.
func (b *Broker) Subscribe(topic string, sub Subscriber, highWaterMark int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[Subscriber]*limitedSubscriber)
		b.topics[topic] = subs
	}
	ls := &limitedSubscriber{sub: sub}
	if highWaterMark > 0 {
		ls.limiter = rate.NewLimiter(rate.Limit(highWaterMark), highWaterMark)
	}
	subs[sub] = ls
}

// Unsubscribe removes sub from topic.
func (b *Broker) Unsubscribe(topic string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// UnsubscribeAll removes sub from every topic it joined, used when a
// connection closes.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Publish fans payload out to every subscriber of topic. Each
// subscriber is notified on its own goroutine so one slow subscriber
// never blocks the publisher or its peers; a subscriber whose limiter
// denies the send is skipped and counted as a drop.
func (b *Broker) Publish(topic string, payload []byte) {
	b.mu.RLock()
	subs := b.topics[topic]
	targets := make([]*limitedSubscriber, 0, len(subs))
	for _, ls := range subs {
		targets = append(targets, ls)
	}
	b.mu.RUnlock()

	for _, ls := range targets {
		ls := ls
		if ls.limiter != nil && !ls.limiter.Allow() {
			rpcmetrics.PublishDropsTotal.Inc()
			continue
		}
		go ls.sub.Send(topic, payload)
	}
}

// SubscriberCount reports how many subscribers are joined to topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
