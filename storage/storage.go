// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage defines the collection store shared by the expectation
// engine and the request log, and its in-memory implementation.
//
// A collection is an ordered list of opaque records scoped by a server
// instance ID and a collection name. Every operation on a collection is
// atomic with respect to every other operation on the same collection.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Collection names
const (
	Expectations = "expectations"
	Requests     = "requests"
)

// ErrStorage is matched by every *Error
var ErrStorage = errors.New("storage failure")

// Error reports a failed store operation. State can no longer be trusted
// once one is returned, callers propagate it instead of retrying.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every *Error
func (e *Error) Is(target error) bool { return target == ErrStorage }

// UpdateFunc receives the current records of a collection and returns the
// records to write back. Nothing is written when changed is false.
type UpdateFunc func(records [][]byte) (updated [][]byte, changed bool, err error)

// Store is the atomic, collection oriented state store
type Store interface {
	// Read returns the records of a collection, empty when it does not exist
	Read(ctx context.Context, instance, collection string) ([][]byte, error)
	// Store replaces the collection
	Store(ctx context.Context, instance, collection string, records [][]byte) error
	// Prepend inserts a record at the head
	Prepend(ctx context.Context, instance, collection string, record []byte) error
	// Append inserts a record at the tail
	Append(ctx context.Context, instance, collection string, record []byte) error
	// Clear resets the collection to empty
	Clear(ctx context.Context, instance, collection string) error
	// Update runs one serialized read-modify-write cycle
	Update(ctx context.Context, instance, collection string, fn UpdateFunc) error
	// Close releases the backend
	Close() error
}

// Key returns the flat key identifying a collection of an instance
func Key(instance, collection string) string {
	return instance + "/" + collection
}

// Copy returns a copy of records so callers never alias store internals
func Copy(records [][]byte) [][]byte {
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = append([]byte(nil), r...)
	}
	return out
}
