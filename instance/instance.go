// Copyright 2014 Claudemiro Alves Feitosa Neto. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package instance holds the explicit handle of one running mock server:
// its collections, its feed subscribers and its counters.
package instance

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"httpmock/connection"
	"httpmock/expectation"
	"httpmock/logger"
	"httpmock/request"
	"httpmock/requestlog"
	"httpmock/storage"
)

// Instance is the state owned by one mock server
type Instance struct {
	sync.RWMutex

	ID           string
	MaxBodyBytes int64

	Expectations *expectation.Engine
	Requests     *requestlog.Log

	store       storage.Store
	connections map[string]*connection.Connection

	Stats *expvar.Map `json:"-"`
}

// New returns the instance id backed by store. An empty id gets a random one.
func New(id string, store storage.Store) *Instance {
	if id == "" {
		id = uuid.New().String()
	}

	i := &Instance{
		ID:           id,
		MaxBodyBytes: request.DefaultMaxBodyBytes,
		Expectations: expectation.NewEngine(store, id),
		Requests:     requestlog.New(store, id),
		store:        store,
		connections:  make(map[string]*connection.Connection),
	}

	i.Stats = new(expvar.Map).Init()
	name := fmt.Sprintf("httpmock (%s)", id)
	if expvar.Get(name) == nil {
		expvar.Publish(name, i.Stats)
	}

	return i
}

// Store returns the backing store
func (i *Instance) Store() storage.Store {
	return i.store
}

// Reset clears both collections
func (i *Instance) Reset(ctx context.Context) error {
	if err := i.Requests.Clear(ctx); err != nil {
		return err
	}
	return i.Expectations.Clear(ctx)
}

// Connect registers a feed subscriber and starts its writer
func (i *Instance) Connect(conn *connection.Connection) {
	logger.Debug("Adding feed subscriber", zap.String("connection_id", conn.ID), zap.String("instance_id", i.ID))

	i.Lock()
	defer i.Unlock()

	i.connections[conn.ID] = conn
	i.Stats.Add("TotalConnections", 1)

	go conn.Run()
}

// Disconnect removes a feed subscriber
func (i *Instance) Disconnect(id string) {
	i.Lock()
	defer i.Unlock()

	conn, exists := i.connections[id]
	if !exists {
		return
	}

	conn.Close()
	delete(i.connections, id)
	i.Stats.Add("TotalConnections", -1)

	logger.Debug("Removed feed subscriber", zap.String("connection_id", id), zap.String("instance_id", i.ID))
}

// FindConnection finds a feed subscriber
func (i *Instance) FindConnection(id string) (*connection.Connection, error) {
	i.RLock()
	defer i.RUnlock()

	conn, exists := i.connections[id]
	if exists {
		return conn, nil
	}

	return nil, errors.New("connection not found")
}

// Publish queues a recorded request for every subscriber. It never waits
// on a subscriber's socket.
func (i *Instance) Publish(r *request.Request) {
	i.RLock()
	conns := make([]*connection.Connection, 0, len(i.connections))
	for _, c := range i.connections {
		conns = append(conns, c)
	}
	i.RUnlock()

	for _, c := range conns {
		if err := c.Publish(r); err != nil {
			i.Stats.Add("DroppedEvents", 1)
		}
	}
}

// Count reads an expvar counter, 0 when unset
func (i *Instance) Count(name string) int64 {
	if v, ok := i.Stats.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}
