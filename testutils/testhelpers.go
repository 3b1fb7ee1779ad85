// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package testutils builds instances for handler tests.
package testutils

import (
	"fmt"
	"sync/atomic"

	"httpmock/instance"
	"httpmock/mocks"
	"httpmock/storage"
)

var testInstanceIDCounter int64

func nextID() string {
	return fmt.Sprintf("test-%d", atomic.AddInt64(&testInstanceIDCounter, 1))
}

// NewTestInstance creates an instance backed by a fresh in-memory store,
// with an auto-incrementing ID
func NewTestInstance() *instance.Instance {
	return instance.New(nextID(), storage.NewInMemory())
}

// NewTestInstanceWithStore creates an instance backed by s
func NewTestInstanceWithStore(s storage.Store) *instance.Instance {
	return instance.New(nextID(), s)
}

// NewFailingInstance creates an instance whose store fails on ops
func NewFailingInstance(ops ...string) (*instance.Instance, *mocks.FailingStore) {
	s := mocks.NewFailingStore()
	s.FailOn(ops...)
	return instance.New(nextID(), s), s
}
