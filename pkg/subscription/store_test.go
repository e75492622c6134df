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

package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/topicgate/pkg/connection"
)

// fakeSubscriber records envelopes and can be told to fail sends.
type fakeSubscriber struct {
	id   string
	fail bool

	mu       sync.Mutex
	received []connection.Envelope
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(env connection.Envelope) error {
	if f.fail {
		return connection.ErrMailboxFull
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, env)
	return nil
}

func (f *fakeSubscriber) envelopes() []connection.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connection.Envelope(nil), f.received...)
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := NewStore()
	sub := newFakeSubscriber("c1")

	s.Register("item/1", sub)
	s.Register("item/1", sub)

	assert.Equal(t, 1, s.Count("item/1"))
}

func TestDeregister(t *testing.T) {
	s := NewStore()
	sub1 := newFakeSubscriber("c1")
	sub2 := newFakeSubscriber("c2")

	s.Register("item/1", sub1)
	s.Register("item/1", sub2)
	require.Equal(t, 2, s.Count("item/1"))

	s.Deregister("item/1", sub1)
	assert.Equal(t, 1, s.Count("item/1"))

	// No-op for a subscriber that is not registered.
	s.Deregister("item/1", sub1)
	assert.Equal(t, 1, s.Count("item/1"))
	s.Deregister("unknown/topic", sub1)

	// The topic entry disappears with its last subscriber.
	s.Deregister("item/1", sub2)
	assert.Equal(t, 0, s.Count("item/1"))
	_, exists := s.subscriptions["item/1"]
	assert.False(t, exists)
}

func TestDeregisterAll(t *testing.T) {
	s := NewStore()
	sub := newFakeSubscriber("c1")
	other := newFakeSubscriber("c2")

	s.Register("a", sub)
	s.Register("b", sub)
	s.Register("b", other)
	s.Register("c", other)

	removed := s.DeregisterAll(sub)
	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Equal(t, 0, s.Count("a"))
	assert.Equal(t, 1, s.Count("b"))
	assert.Equal(t, 1, s.Count("c"))

	// A second pass removes nothing.
	assert.Empty(t, s.DeregisterAll(sub))
}

func TestPublishDeliversToCurrentSubscribersOnly(t *testing.T) {
	s := NewStore()
	sub1 := newFakeSubscriber("c1")
	sub2 := newFakeSubscriber("c2")
	bystander := newFakeSubscriber("c3")

	s.Register("item/1", sub1)
	s.Register("item/1", sub2)
	s.Register("item/2", bystander)

	delivered := s.Publish("item/1", map[string]string{"type": "update"})
	assert.Equal(t, 2, delivered)

	for _, sub := range []*fakeSubscriber{sub1, sub2} {
		envs := sub.envelopes()
		require.Len(t, envs, 1)
		assert.Equal(t, "/sub/-/item/1", envs[0].Event)
	}
	assert.Empty(t, bystander.envelopes())
}

func TestPublishWithNoSubscribers(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.Publish("empty/topic", "msg"))
}

func TestPublishSkipsFailingSubscriber(t *testing.T) {
	s := NewStore()
	healthy := newFakeSubscriber("c1")
	stuck := newFakeSubscriber("c2")
	stuck.fail = true

	s.Register("t", healthy)
	s.Register("t", stuck)

	delivered := s.Publish("t", "msg")
	assert.Equal(t, 1, delivered)
	assert.Len(t, healthy.envelopes(), 1)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "/sub/-/item/1", Channel("item/1"))
}

func TestConcurrentRegisterAndPublish(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("c%d", i))
			s.Register("shared", sub)
			s.Publish("shared", i)
			s.DeregisterAll(sub)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Count("shared"))
}
