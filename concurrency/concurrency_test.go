// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package concurrency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"httpmock/api"
	"httpmock/connection"
	"httpmock/expectation"
	"httpmock/limiter"
	"httpmock/mocks"
	"httpmock/response"
	"httpmock/testutils"
)

// TestConcurrentDispatch records every request exactly once
func TestConcurrentDispatch(t *testing.T) {
	inst := testutils.NewTestInstance()
	handler := api.NewDispatcher(inst)

	const numGoroutines = 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", fmt.Sprintf("/req/%d", id), nil))
		}(i)
	}

	wg.Wait()

	count, err := inst.Requests.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}

	if count != numGoroutines {
		t.Errorf("Expected %d records, got %d", numGoroutines, count)
	}

	if got := inst.Count("TotalRequests"); got != numGoroutines {
		t.Errorf("Expected TotalRequests %d, got %d", numGoroutines, got)
	}
}

// TestConcurrentLimiter never lets a limited expectation answer more than N times
func TestConcurrentLimiter(t *testing.T) {
	inst := testutils.NewTestInstance()
	handler := api.NewDispatcher(inst)

	const limit = 5
	if _, err := inst.Expectations.Add(context.Background(), expectation.Expectation{
		Response: response.New(200, "limited"),
		Limiter:  limiter.Times(limit),
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	const numGoroutines = 50
	var wg sync.WaitGroup
	var matched, unmatched int64

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

			switch w.Code {
			case http.StatusOK:
				atomic.AddInt64(&matched, 1)
			case http.StatusNotImplemented:
				atomic.AddInt64(&unmatched, 1)
			}
		}()
	}

	wg.Wait()

	if matched != limit {
		t.Errorf("Expected %d matches, got %d", limit, matched)
	}

	if unmatched != numGoroutines-limit {
		t.Errorf("Expected %d misses, got %d", numGoroutines-limit, unmatched)
	}
}

// TestConcurrentAddAndDispatch mixes control calls with intercepted requests
func TestConcurrentAddAndDispatch(t *testing.T) { //nolint:revive // t required by testing framework
	inst := testutils.NewTestInstance()
	dispatcher := api.NewDispatcher(inst)
	ctx := context.Background()

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = inst.Expectations.Add(ctx, expectation.Expectation{Response: response.New(200, fmt.Sprint(i))})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			dispatcher.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = inst.Requests.PopFirst(ctx)
		}
	}()

	wg.Wait()

	expectations, _ := inst.Expectations.List(ctx)
	if len(expectations) != 50 {
		t.Errorf("Expected 50 expectations, got %d", len(expectations))
	}
}

// TestConcurrentSubscribers publishes to subscribers joining and leaving
func TestConcurrentSubscribers(t *testing.T) { //nolint:revive // t required by testing framework
	inst := testutils.NewTestInstance()
	dispatcher := api.NewDispatcher(inst)

	const numGoroutines = 50
	var wg sync.WaitGroup

	wg.Add(numGoroutines * 2)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			connID := fmt.Sprintf("feed-%d", id)
			inst.Connect(connection.New(connID, mocks.NewMockSocket(), nil))
			if id%2 == 0 {
				inst.Disconnect(connID)
			}
		}(i)
		go func() {
			defer wg.Done()
			dispatcher.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		}()
	}

	wg.Wait()

	if got := inst.Count("TotalConnections"); got != numGoroutines/2 {
		t.Errorf("Expected %d subscribers, got %d", numGoroutines/2, got)
	}
}
