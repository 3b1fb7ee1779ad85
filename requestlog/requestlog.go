// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package requestlog keeps the intercepted requests of a server instance in
// arrival order.
package requestlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"httpmock/request"
	"httpmock/storage"
)

// ErrNotFound is returned when a selector points outside the log
var ErrNotFound = errors.New("request not found")

// Edge names one end of the log
type Edge int

// Edges
const (
	None Edge = iota
	First
	Last
)

// Selector addresses a record by index or by edge
type Selector struct {
	Index int
	Edge  Edge
}

// Index selects the record at position i, 0 being the oldest
func Index(i int) Selector { return Selector{Index: i} }

func (s Selector) String() string {
	switch s.Edge {
	case First:
		return "first"
	case Last:
		return "last"
	}
	return strconv.Itoa(s.Index)
}

// ParseSelector accepts "first", "last", "latest" or a non-negative index
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "first":
		return Selector{Edge: First}, nil
	case "last", "latest":
		return Selector{Edge: Last}, nil
	}

	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return Selector{}, fmt.Errorf("invalid request selector %q", s)
	}

	return Index(i), nil
}

// Log is the requests collection of one server instance
type Log struct {
	store    storage.Store
	instance string
}

// New returns the log of instance
func New(store storage.Store, instance string) *Log {
	return &Log{store: store, instance: instance}
}

// Append records r at the tail
func (l *Log) Append(ctx context.Context, r *request.Request) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return l.store.Append(ctx, l.instance, storage.Requests, data)
}

// Count returns the number of records
func (l *Log) Count(ctx context.Context) (int, error) {
	records, err := l.store.Read(ctx, l.instance, storage.Requests)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// All returns every record, oldest first
func (l *Log) All(ctx context.Context) ([]*request.Request, error) {
	records, err := l.store.Read(ctx, l.instance, storage.Requests)
	if err != nil {
		return nil, err
	}

	out := make([]*request.Request, 0, len(records))
	for _, record := range records {
		r, err := decode(record)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, nil
}

// Get returns the selected record
func (l *Log) Get(ctx context.Context, sel Selector) (*request.Request, error) {
	records, err := l.store.Read(ctx, l.instance, storage.Requests)
	if err != nil {
		return nil, err
	}

	i, ok := position(sel, len(records))
	if !ok {
		return nil, ErrNotFound
	}

	return decode(records[i])
}

// PopFirst removes and returns the oldest record
func (l *Log) PopFirst(ctx context.Context) (*request.Request, error) {
	return l.pop(ctx, Selector{Edge: First})
}

// PopLast removes and returns the newest record
func (l *Log) PopLast(ctx context.Context) (*request.Request, error) {
	return l.pop(ctx, Selector{Edge: Last})
}

// Pop removes and returns the record at an edge of the log
func (l *Log) Pop(ctx context.Context, sel Selector) (*request.Request, error) {
	if sel.Edge == None {
		return nil, fmt.Errorf("only first and last can be removed, got %s", sel)
	}
	return l.pop(ctx, sel)
}

func (l *Log) pop(ctx context.Context, sel Selector) (*request.Request, error) {
	var popped []byte

	err := l.store.Update(ctx, l.instance, storage.Requests, func(records [][]byte) ([][]byte, bool, error) {
		popped = nil

		if len(records) == 0 {
			return nil, false, nil
		}

		if sel.Edge == Last {
			popped = records[len(records)-1]
			return records[:len(records)-1], true, nil
		}

		popped = records[0]
		return records[1:], true, nil
	})
	if err != nil {
		return nil, err
	}

	if popped == nil {
		return nil, ErrNotFound
	}

	return decode(popped)
}

// Clear removes every record
func (l *Log) Clear(ctx context.Context) error {
	return l.store.Clear(ctx, l.instance, storage.Requests)
}

func position(sel Selector, n int) (int, bool) {
	if n == 0 {
		return 0, false
	}

	switch sel.Edge {
	case First:
		return 0, true
	case Last:
		return n - 1, true
	}

	if sel.Index < 0 || sel.Index >= n {
		return 0, false
	}

	return sel.Index, true
}

func decode(record []byte) (*request.Request, error) {
	r, err := request.Unmarshal(record)
	if err != nil {
		return nil, &storage.Error{Op: "decode", Collection: storage.Requests, Err: err}
	}
	return r, nil
}
