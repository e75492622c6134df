// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package subscription provides a thread-safe, in-memory registry mapping
// topics to the connections subscribed to them, and the fan-out path that
// delivers a published message to every current subscriber. The registry
// performs no authorization; callers decide before mutating or publishing.
package subscription

import (
	"sync"

	"github.com/turtacn/topicgate/pkg/connection"
	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
)

// Subscriber is the registry's view of a connection: a stable identity and
// a non-blocking send capability.
type Subscriber interface {
	ID() string
	Send(env connection.Envelope) error
}

// Channel derives the outbound event channel for a topic's fan-out
// envelopes.
func Channel(topic string) string {
	return "/sub/-/" + topic
}

// Store is the subscription registry. Subscribers are keyed by connection
// id within each topic, which makes registration idempotent.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]Subscriber
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		subscriptions: make(map[string]map[string]Subscriber),
	}
}

// Register adds sub to topic's subscriber set. Registering the same
// (topic, connection) pair twice leaves a single entry.
func (s *Store) Register(topic string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.subscriptions[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		s.subscriptions[topic] = subs
	}
	if _, exists := subs[sub.ID()]; !exists {
		subs[sub.ID()] = sub
		metrics.SubscriptionsActive.Inc()
	}
}

// Deregister removes sub from topic's subscriber set; a no-op if it was
// not subscribed. An emptied topic entry is removed from the store.
func (s *Store) Deregister(topic string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(topic, sub.ID())
}

// DeregisterAll removes sub from every topic's subscriber set. It returns
// the topics the subscription was removed from, for bookkeeping by the
// caller. Called once, when the connection closes.
func (s *Store) DeregisterAll(sub Subscriber) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for topic, subs := range s.subscriptions {
		if _, ok := subs[sub.ID()]; ok {
			logging.Debugf("Removing subscription for topic %s for client %s", topic, sub.ID())
			s.removeLocked(topic, sub.ID())
			removed = append(removed, topic)
		}
	}
	return removed
}

func (s *Store) removeLocked(topic, id string) {
	subs, ok := s.subscriptions[topic]
	if !ok {
		return
	}
	if _, exists := subs[id]; !exists {
		return
	}
	delete(subs, id)
	metrics.SubscriptionsActive.Dec()
	if len(subs) == 0 {
		delete(s.subscriptions, topic)
	}
}

// Count returns the number of subscribers currently registered for topic.
func (s *Store) Count(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscriptions[topic])
}

// Publish delivers message to every subscriber of topic and returns the
// number of successful deliveries. Publishing to a topic with no
// subscribers is not an error. Each delivery is attempted independently: a
// subscriber whose mailbox is full or whose connection has closed is
// skipped, never allowed to block the rest.
func (s *Store) Publish(topic string, message interface{}) int {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscriptions[topic]))
	for _, sub := range s.subscriptions[topic] {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	env := connection.Envelope{Event: Channel(topic), Data: message}
	delivered := 0
	for _, sub := range subs {
		if err := sub.Send(env); err != nil {
			logging.Warnf("Dropping message on topic %s for client %s: %v", topic, sub.ID(), err)
			metrics.MessagesDroppedTotal.Inc()
			continue
		}
		delivered++
		metrics.MessagesDeliveredTotal.Inc()
	}
	return delivered
}
