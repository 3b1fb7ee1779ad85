// Copyright 2014 Claudemiro Alves Feitosa Neto. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package websockets streams recorded requests to subscribers.
package websockets

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"httpmock/connection"
	"httpmock/instance"
	"httpmock/logger"
	"httpmock/matcher"
)

// MsgMatcherInvalid is answered with 417 for a bad ?matcher= filter
const MsgMatcherInvalid = `Query key "matcher" must be a serialized list of matchers`

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
	EnableCompression: true,
}

const (
	// WriteWait is the time allowed to write a message to the peer
	WriteWait = 10 * time.Second
	// PongWait is the time allowed to read the next pong message from the peer
	PongWait = 60 * time.Second
	// PingPeriod is how often to send pings to peer (must be less than PongWait)
	PingPeriod = (PongWait * 9) / 10
)

// socket bounds every JSON write by WriteWait
type socket struct {
	conn *websocket.Conn
}

func (s socket) WriteJSON(v interface{}) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Stream handler GET /_request/stream
type Stream struct {
	instance *instance.Instance
}

// NewStream returns a new Stream handler
func NewStream(inst *instance.Instance) *Stream {
	return &Stream{instance: inst}
}

func (h *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter matcher.Predicate

	if raw := r.URL.Query().Get("matcher"); raw != "" {
		rules, err := matcher.Decode([]byte(raw))
		if err == nil {
			filter, err = matcher.Compile(rules)
		}
		if err != nil {
			logger.Debug("Rejected stream filter", zap.Error(err))
			http.Error(w, MsgMatcherInvalid, http.StatusExpectationFailed)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Error closing websocket connection", zap.Error(err))
		}
	}()

	id := uuid.New().String()
	subscriber := connection.New(id, socket{conn: conn}, filter)

	// The greeting is queued first so it precedes every record
	if err := subscriber.Enqueue(connection.Event{Event: connection.EventConnectionEstablished}); err != nil {
		logger.Error("Failed to greet subscriber", zap.Error(err), zap.String("connection_id", id))
		return
	}

	h.instance.Connect(subscriber)
	defer h.instance.Disconnect(id)

	handleMessages(conn, id)
}

// handleMessages keeps the connection alive until the peer goes away.
// Subscribers have nothing to say, incoming messages are discarded.
func handleMessages(conn *websocket.Conn, id string) {
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		pingTicker := time.NewTicker(PingPeriod)
		defer pingTicker.Stop()

		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			handleError(id, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	}
}

func handleError(id string, err error) {
	var closeErr *websocket.CloseError
	if errors.Is(err, io.EOF) || errors.As(err, &closeErr) {
		logger.Debug("Feed subscriber left", zap.String("connection_id", id))
		return
	}

	logger.Warn("Websocket error", zap.Error(err), zap.String("connection_id", id))
}
