// Copyright 2014 Claudemiro Alves Feitosa Neto. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package connection holds the subscribers of the recorded request feed.
package connection

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"httpmock/logger"
	"httpmock/matcher"
	"httpmock/request"
)

// QueueSize is the number of events buffered per subscriber
const QueueSize = 256

var (
	// ErrQueueFull is returned when a subscriber lags behind and an event is dropped
	ErrQueueFull = errors.New("subscriber queue full")
	// ErrClosed is returned when publishing to a closed subscriber
	ErrClosed = errors.New("subscriber closed")
)

// Socket interface to write to the client
type Socket interface {
	WriteJSON(interface{}) error
}

// Event is the message pushed for every recorded request
type Event struct {
	Event string           `json:"event"`
	Data  *request.Request `json:"data"`
}

// Event names
const (
	// EventConnectionEstablished is sent once the subscriber is registered
	EventConnectionEstablished = "connection_established"
	// EventRequestRecorded is sent for every new record
	EventRequestRecorded = "request_recorded"
)

// Connection is a feed subscriber. Only records accepted by Filter are
// pushed to it. Events are queued and written by Run, so publishing never
// waits on the socket.
type Connection struct {
	sync.Mutex

	ID        string
	Socket    Socket
	Filter    matcher.Predicate
	CreatedAt time.Time

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// New creates a subscriber; a nil filter accepts everything
func New(id string, s Socket, filter matcher.Predicate) *Connection {
	logger.Debug("Creating new feed subscriber", zap.String("connection_id", id))

	if filter == nil {
		filter = func(*request.Request) bool { return true }
	}

	return &Connection{
		ID:        id,
		Socket:    s,
		Filter:    filter,
		CreatedAt: time.Now(),
		queue:     make(chan Event, QueueSize),
		done:      make(chan struct{}),
	}
}

// Send writes an event to the socket right away
func (conn *Connection) Send(event Event) error {
	conn.Lock()
	defer conn.Unlock()

	return conn.Socket.WriteJSON(event)
}

// Enqueue queues an event for Run without blocking. The event is dropped
// when the queue is full.
func (conn *Connection) Enqueue(event Event) error {
	select {
	case <-conn.done:
		return ErrClosed
	default:
	}

	select {
	case conn.queue <- event:
		return nil
	default:
		conn.dropped.Add(1)
		logger.Warn("Feed subscriber lagging, event dropped", zap.String("connection_id", conn.ID))
		return ErrQueueFull
	}
}

// Publish queues r when the filter accepts it
func (conn *Connection) Publish(r *request.Request) error {
	if !conn.Filter(r) {
		return nil
	}

	return conn.Enqueue(Event{Event: EventRequestRecorded, Data: r})
}

// Run writes queued events until Close is called or a write fails
func (conn *Connection) Run() {
	for {
		select {
		case <-conn.done:
			return
		case event := <-conn.queue:
			if err := conn.Send(event); err != nil {
				logger.Error("Error writing JSON to socket", zap.Error(err), zap.String("connection_id", conn.ID))
				conn.Close()
				return
			}
		}
	}
}

// Close stops Run. It is safe to call more than once.
func (conn *Connection) Close() {
	conn.closeOnce.Do(func() {
		close(conn.done)
	})
}

// Dropped returns how many events were discarded for this subscriber
func (conn *Connection) Dropped() int64 {
	return conn.dropped.Load()
}
