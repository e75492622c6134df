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

// package transport is responsible for the network layer of the gateway.
// It runs a websocket endpoint, gives every accepted socket a connection
// handle, and pumps events between the socket and the gateway: inbound
// frames are dispatched to the gateway in arrival order, outbound
// envelopes are drained from the connection's mailbox by a dedicated
// writer goroutine.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/turtacn/topicgate/pkg/connection"
	"github.com/turtacn/topicgate/pkg/gateway"
	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
)

// Frame is one inbound websocket message: an event name and its payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Server accepts websocket connections and bridges them to the gateway.
type Server struct {
	gateway    *gateway.Gateway
	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewServer creates a transport server over gw.
func NewServer(gw *gateway.Gateway) *Server {
	return &Server{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is the deployment's concern; the gateway sits
			// behind its own authentication handshake.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins listening on addr and serving the /ws endpoint. It returns
// once the listener is bound; serving continues in a background goroutine.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("Websocket server failed: %v", err)
		}
	}()

	logging.Infof("Websocket server started, listening on %s", addr)
	return nil
}

// Stop gracefully shuts the server down and waits for the serve loop to
// finish.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logging.Warnf("Websocket server shutdown: %v", err)
		}
	}
	s.wg.Wait()
	logging.Infof("Websocket server stopped")
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("Websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	metrics.ConnectionsTotal.Inc()
	conn := connection.New()
	logging.Debugf("Accepted connection %s from %s", conn.ID(), r.RemoteAddr)

	go writePump(ws, conn)

	defer func() {
		s.gateway.HandleClose(conn)
		conn.Close()
		ws.Close()
	}()

	s.gateway.HandleOpen(conn)
	s.readLoop(r.Context(), ws, conn)
}

// readLoop dispatches inbound frames to the gateway, one at a time, so a
// connection's events are processed in arrival order.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *connection.Connection) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debugf("Read error on connection %s: %v", conn.ID(), err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			logging.Debugf("Dropping malformed frame from %s: %v", conn.ID(), err)
			continue
		}

		switch frame.Event {
		case "auth":
			s.gateway.HandleAuth(ctx, conn, frame.Data)
		case "subscribe":
			s.gateway.HandleSubscribe(ctx, conn, frame.Data)
		case "unsubscribe":
			s.gateway.HandleUnsubscribe(ctx, conn, frame.Data)
		case "emit":
			s.gateway.HandleEmit(ctx, conn, frame.Data)
		default:
			logging.Debugf("Dropping frame with unknown event %q from %s", frame.Event, conn.ID())
		}
	}
}

// writePump is the sole writer on the socket. It drains the connection's
// mailbox until the connection is closed.
func writePump(ws *websocket.Conn, conn *connection.Connection) {
	for {
		select {
		case env := <-conn.Outbound():
			if err := ws.WriteJSON(env); err != nil {
				logging.Debugf("Write error on connection %s: %v", conn.ID(), err)
				ws.Close()
				return
			}
		case <-conn.Done():
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
