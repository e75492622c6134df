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

// Package gateway orchestrates inbound connection events: it authenticates
// clients, checks every subscribe and publish against the cached rule set,
// and drives the subscription registry on allow. Denials and malformed
// events are dropped silently; at the protocol level a denied request is
// indistinguishable from a successful one with no effect.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/turtacn/topicgate/pkg/auth"
	"github.com/turtacn/topicgate/pkg/connection"
	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
	"github.com/turtacn/topicgate/pkg/rules"
	"github.com/turtacn/topicgate/pkg/subscription"
)

// Message types accepted in an emit event's content.
const (
	MessageTypeCreate = "create"
	MessageTypeUpdate = "update"
	MessageTypeDelete = "delete"
)

// SubscribeEvent is the payload of subscribe and unsubscribe events.
type SubscribeEvent struct {
	Topic string `json:"topic"`
}

// EmitEvent is the payload of an emit event.
type EmitEvent struct {
	Topic   string       `json:"topic"`
	Content *EmitContent `json:"content"`
}

// EmitContent is the typed message carried by an emit event and fanned out
// verbatim to subscribers.
type EmitContent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Gateway wires the authenticator, the rule cache and the subscription
// registry together. All dependencies are injected; the gateway owns no
// global state.
type Gateway struct {
	authenticator auth.Authenticator
	rules         *rules.Cache
	subscriptions *subscription.Store
}

// New creates a Gateway.
func New(authenticator auth.Authenticator, ruleCache *rules.Cache, subscriptions *subscription.Store) *Gateway {
	return &Gateway{
		authenticator: authenticator,
		rules:         ruleCache,
		subscriptions: subscriptions,
	}
}

// HandleOpen runs when a client connects: it asks the client to
// authenticate.
func (g *Gateway) HandleOpen(conn *connection.Connection) {
	logging.Debugf("Connection %s opened", conn.ID())
	if err := conn.Send(connection.Envelope{Event: "auth", Data: map[string]string{"auth": "required"}}); err != nil {
		logging.Warnf("Could not send auth challenge to %s: %v", conn.ID(), err)
	}
}

// HandleAuth authenticates the connection with the supplied opaque
// credential payload. On success the user's attribute bag is attached to
// the connection and an auth-success frame is pushed; failure is silent.
func (g *Gateway) HandleAuth(ctx context.Context, conn *connection.Connection, credentials json.RawMessage) {
	user, result := g.authenticator.Authenticate(ctx, credentials)
	logging.Debugf("Auth request from %s via %s: %s", conn.ID(), g.authenticator.Name(), result)
	if result != auth.ResultSuccess {
		return
	}
	conn.SetUser(user)
	if err := conn.Send(connection.Envelope{Event: "auth", Data: map[string]string{"auth": "success"}}); err != nil {
		logging.Warnf("Could not send auth confirmation to %s: %v", conn.ID(), err)
	}
}

// HandleSubscribe registers the connection for a topic if its user is
// authorized. Denials are a no-op, not an error.
func (g *Gateway) HandleSubscribe(ctx context.Context, conn *connection.Connection, data json.RawMessage) {
	var event SubscribeEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Topic == "" {
		logging.Debugf("Dropping malformed subscribe event from %s", conn.ID())
		return
	}
	logging.Debugf("Subscribe request from %s for %s", conn.ID(), event.Topic)

	user := conn.User()
	if user == nil {
		logging.Debugf("Subscribe request from %s for %s denied: not authenticated", conn.ID(), event.Topic)
		metrics.AuthzDeniedTotal.WithLabelValues("subscribe").Inc()
		return
	}

	allowed := g.rules.Current(ctx).CanSubscribe(event.Topic, user)
	logging.Debugf("Subscribe request from %s for %s is %s", conn.ID(), event.Topic, verdict(allowed))
	if !allowed {
		metrics.AuthzDeniedTotal.WithLabelValues("subscribe").Inc()
		return
	}
	g.subscriptions.Register(event.Topic, conn)
}

// HandleUnsubscribe removes the connection from a topic. Removing oneself
// needs no authorization.
func (g *Gateway) HandleUnsubscribe(_ context.Context, conn *connection.Connection, data json.RawMessage) {
	var event SubscribeEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Topic == "" {
		logging.Debugf("Dropping malformed unsubscribe event from %s", conn.ID())
		return
	}
	logging.Debugf("Unsubscribe request from %s for %s", conn.ID(), event.Topic)
	g.subscriptions.Deregister(event.Topic, conn)
}

// HandleEmit validates the envelope shape, checks publish authorization,
// and fans the content out to the topic's subscribers. Malformed payloads
// and denials are dropped silently.
func (g *Gateway) HandleEmit(ctx context.Context, conn *connection.Connection, data json.RawMessage) {
	event, ok := decodeEmitEvent(data)
	if !ok {
		logging.Debugf("Not emitting message, invalid data specified.")
		return
	}
	logging.Debugf("Emit request from %s for %s", conn.ID(), event.Topic)

	user := conn.User()
	if user == nil {
		logging.Debugf("Emit request from %s for %s denied: not authenticated", conn.ID(), event.Topic)
		metrics.AuthzDeniedTotal.WithLabelValues("publish").Inc()
		return
	}

	allowed := g.rules.Current(ctx).CanPublish(event.Topic, user)
	logging.Debugf("Emit request from %s for %s is %s", conn.ID(), event.Topic, verdict(allowed))
	if !allowed {
		metrics.AuthzDeniedTotal.WithLabelValues("publish").Inc()
		return
	}

	metrics.MessagesPublishedTotal.Inc()
	g.subscriptions.Publish(event.Topic, event.Content)
}

// HandleClose removes every subscription held by the connection. Called
// exactly once, when the transport observes the connection closing.
func (g *Gateway) HandleClose(conn *connection.Connection) {
	removed := g.subscriptions.DeregisterAll(conn)
	logging.Debugf("Connection %s closed, removed %d subscriptions", conn.ID(), len(removed))
}

// decodeEmitEvent decodes and shape-checks an emit payload. Clients that
// pre-serialize their payload send a JSON string containing the event
// object; that layer is unwrapped first.
func decodeEmitEvent(data json.RawMessage) (EmitEvent, bool) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = json.RawMessage(encoded)
	}

	var event EmitEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return EmitEvent{}, false
	}
	if event.Topic == "" || event.Content == nil {
		return EmitEvent{}, false
	}
	switch event.Content.Type {
	case MessageTypeCreate, MessageTypeUpdate, MessageTypeDelete:
	default:
		return EmitEvent{}, false
	}
	if len(event.Content.Message) == 0 || string(event.Content.Message) == "null" {
		return EmitEvent{}, false
	}
	return event, true
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
