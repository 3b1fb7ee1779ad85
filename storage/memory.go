// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"sync"
)

type collection struct {
	sync.Mutex

	records [][]byte
}

// InMemory keeps every collection in process memory
type InMemory struct {
	sync.RWMutex

	collections map[string]*collection
}

// NewInMemory returns an empty in-memory store
func NewInMemory() *InMemory {
	return &InMemory{collections: make(map[string]*collection)}
}

func (s *InMemory) collection(instance, name string) *collection {
	key := Key(instance, name)

	s.RLock()
	c, exists := s.collections[key]
	s.RUnlock()

	if exists {
		return c
	}

	s.Lock()
	defer s.Unlock()

	if c, exists = s.collections[key]; !exists {
		c = &collection{}
		s.collections[key] = c
	}

	return c
}

// Read returns a copy of the collection
func (s *InMemory) Read(_ context.Context, instance, name string) ([][]byte, error) {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	return Copy(c.records), nil
}

// Store replaces the collection
func (s *InMemory) Store(_ context.Context, instance, name string, records [][]byte) error {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	c.records = Copy(records)
	return nil
}

// Prepend inserts record at the head of the collection
func (s *InMemory) Prepend(_ context.Context, instance, name string, record []byte) error {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	records := make([][]byte, 0, len(c.records)+1)
	records = append(records, append([]byte(nil), record...))
	c.records = append(records, c.records...)
	return nil
}

// Append inserts record at the tail of the collection
func (s *InMemory) Append(_ context.Context, instance, name string, record []byte) error {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	c.records = append(c.records, append([]byte(nil), record...))
	return nil
}

// Clear empties the collection
func (s *InMemory) Clear(_ context.Context, instance, name string) error {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	c.records = nil
	return nil
}

// Update runs fn while holding the collection lock
func (s *InMemory) Update(_ context.Context, instance, name string, fn UpdateFunc) error {
	c := s.collection(instance, name)
	c.Lock()
	defer c.Unlock()

	updated, changed, err := fn(Copy(c.records))
	if err != nil {
		return err
	}

	if changed {
		c.records = Copy(updated)
	}

	return nil
}

// Close drops every collection
func (s *InMemory) Close() error {
	s.Lock()
	defer s.Unlock()

	s.collections = make(map[string]*collection)
	return nil
}
