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

// Package connection models a single client connection as seen by the
// core: a stable identity, an optional authenticated user, and a bounded
// outbound mailbox. The transport owns the socket; it drains the mailbox
// with a writer goroutine, so a slow client stalls only its own delivery.
package connection

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/turtacn/topicgate/pkg/auth"
)

// Envelope is one outbound frame: the event channel it is addressed to and
// its payload. Fan-out envelopes use the topic-scoped channel derived from
// the topic name; control frames (auth handshake) use their event name.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// DefaultMailboxSize is the outbound buffer per connection. Deliveries to a
// full mailbox are dropped rather than blocking the publisher.
const DefaultMailboxSize = 64

// ErrClosed is returned by Send after the connection has been closed.
var ErrClosed = errors.New("connection closed")

// ErrMailboxFull is returned by Send when the outbound buffer is full.
var ErrMailboxFull = errors.New("connection mailbox full")

// Connection is the core's handle on one connected client.
type Connection struct {
	id string

	mu   sync.RWMutex
	user auth.User

	outbound  chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a connection with a fresh identity and the default mailbox
// size.
func New() *Connection {
	return NewWithMailbox(DefaultMailboxSize)
}

// NewWithMailbox creates a connection with an explicit mailbox capacity.
func NewWithMailbox(size int) *Connection {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Connection{
		id:       uuid.NewString(),
		outbound: make(chan Envelope, size),
		done:     make(chan struct{}),
	}
}

// ID returns the connection's stable identity.
func (c *Connection) ID() string {
	return c.id
}

// SetUser attaches the authenticated user's attribute bag. A repeated
// successful authentication replaces the previous bag.
func (c *Connection) SetUser(user auth.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

// User returns the attached attribute bag, or nil while unauthenticated.
func (c *Connection) User() auth.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Send queues an envelope for delivery. It never blocks: a closed
// connection or a full mailbox is reported as an error and the envelope is
// discarded, so one stuck subscriber cannot hold up fan-out to the rest.
func (c *Connection) Send(env Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outbound <- env:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrMailboxFull
	}
}

// Outbound is the channel the transport's writer goroutine drains.
func (c *Connection) Outbound() <-chan Envelope {
	return c.outbound
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Idempotent. Queued envelopes that the
// writer has not yet drained are abandoned.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
