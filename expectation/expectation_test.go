// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package expectation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"httpmock/limiter"
	"httpmock/matcher"
	"httpmock/mocks"
	"httpmock/request"
	"httpmock/response"
	"httpmock/storage"
)

func newEngine() *Engine {
	return NewEngine(storage.NewInMemory(), "test-instance")
}

func get(path string) *request.Request {
	return &request.Request{Method: http.MethodGet, Path: path, Header: http.Header{}}
}

func catchAll(body string) Expectation {
	return Expectation{Matcher: []matcher.Rule{matcher.Any()}, Response: response.New(http.StatusOK, body)}
}

func TestEngine_NewestExpectationWins(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	for i := 1; i <= 5; i++ {
		if _, err := en.Add(ctx, catchAll(fmt.Sprintf("e%d", i))); err != nil {
			t.Fatalf("Add() error = %v", err)
		}

		e, err := en.Evaluate(ctx, get("/"))
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}

		if want := fmt.Sprintf("e%d", i); e.Response.Body != want {
			t.Errorf("e.Response.Body == %q, wants %q", e.Response.Body, want)
		}
	}
}

func TestEngine_EmptyMatcherAlwaysMatches(t *testing.T) {
	ctx := context.Background()
	en := newEngine()
	_, _ = en.Add(ctx, Expectation{Response: response.New(http.StatusCreated, "ok")})

	e, err := en.Evaluate(ctx, get("/anything"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if e.Response.StatusCode() != http.StatusCreated {
		t.Errorf("status == %d, wants %d", e.Response.StatusCode(), http.StatusCreated)
	}
}

func TestEngine_NoMatch(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	if _, err := en.Evaluate(ctx, get("/")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Evaluate() on empty engine error = %v, wants ErrNoMatch", err)
	}

	_, _ = en.Add(ctx, Expectation{Matcher: []matcher.Rule{matcher.Path("/a")}, Response: response.New(200, "a")})

	if _, err := en.Evaluate(ctx, get("/b")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Evaluate() error = %v, wants ErrNoMatch", err)
	}
}

func TestEngine_MatcherSelectsOlderExpectation(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	_, _ = en.Add(ctx, Expectation{Matcher: []matcher.Rule{matcher.Path("/a")}, Response: response.New(200, "a")})
	_, _ = en.Add(ctx, Expectation{Matcher: []matcher.Rule{matcher.Path("/b")}, Response: response.New(200, "b")})

	e, err := en.Evaluate(ctx, get("/a"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if e.Response.Body != "a" {
		t.Errorf("e.Response.Body == %q, wants %q", e.Response.Body, "a")
	}
}

func TestEngine_LimiterFallsThrough(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	_, _ = en.Add(ctx, catchAll("fallback"))
	limited := catchAll("limited")
	limited.Limiter = limiter.Times(2)
	_, _ = en.Add(ctx, limited)

	want := []string{"limited", "limited", "fallback", "fallback"}
	for i, w := range want {
		e, err := en.Evaluate(ctx, get("/"))
		if err != nil {
			t.Fatalf("Evaluate() #%d error = %v", i, err)
		}
		if e.Response.Body != w {
			t.Errorf("Evaluate() #%d == %q, wants %q", i, e.Response.Body, w)
		}
	}
}

func TestEngine_LimiterExhaustedGivesNoMatch(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	limited := catchAll("once")
	limited.Limiter = limiter.Times(1)
	_, _ = en.Add(ctx, limited)

	if _, err := en.Evaluate(ctx, get("/")); err != nil {
		t.Fatalf("first Evaluate() error = %v", err)
	}

	if _, err := en.Evaluate(ctx, get("/")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("second Evaluate() error = %v, wants ErrNoMatch", err)
	}
}

func TestEngine_AfterSkipsEligibleRequests(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	_, _ = en.Add(ctx, catchAll("fallback"))
	delayed := catchAll("after")
	delayed.Limiter = limiter.After(2)
	_, _ = en.Add(ctx, delayed)

	want := []string{"fallback", "fallback", "after", "after"}
	for i, w := range want {
		e, err := en.Evaluate(ctx, get("/"))
		if err != nil {
			t.Fatalf("Evaluate() #%d error = %v", i, err)
		}
		if e.Response.Body != w {
			t.Errorf("Evaluate() #%d == %q, wants %q", i, e.Response.Body, w)
		}
	}

	list, _ := en.List(ctx)
	if list[0].Runs != 2 || list[0].Eligible != 4 {
		t.Errorf("list[0] runs/eligible == %d/%d, wants 2/4", list[0].Runs, list[0].Eligible)
	}
}

func TestEngine_AfterAlone(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	delayed := catchAll("after")
	delayed.Limiter = limiter.After(1)
	_, _ = en.Add(ctx, delayed)

	if _, err := en.Evaluate(ctx, get("/")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("first Evaluate() error = %v, wants ErrNoMatch", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := en.Evaluate(ctx, get("/")); err != nil {
			t.Errorf("Evaluate() #%d error = %v", i+2, err)
		}
	}
}

func TestEngine_AfterIgnoresRequestsTheMatcherRejects(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	e := Expectation{Matcher: []matcher.Rule{matcher.Path("/a")}, Response: response.New(200, "a"), Limiter: limiter.After(1)}
	_, _ = en.Add(ctx, e)

	for i := 0; i < 3; i++ {
		_, _ = en.Evaluate(ctx, get("/b"))
	}

	if _, err := en.Evaluate(ctx, get("/a")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("first /a Evaluate() error = %v, wants ErrNoMatch", err)
	}
	if _, err := en.Evaluate(ctx, get("/a")); err != nil {
		t.Errorf("second /a Evaluate() error = %v", err)
	}
}

func TestEngine_ExprLimiterSeesEligible(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	odd := catchAll("odd")
	odd.Limiter = limiter.Expr("eligible % 2 == 1")
	_, _ = en.Add(ctx, odd)

	want := []bool{false, true, false, true}
	for i, w := range want {
		_, err := en.Evaluate(ctx, get("/"))
		if got := err == nil; got != w {
			t.Errorf("Evaluate() #%d matched == %t, wants %t", i, got, w)
		}
	}
}

func TestEngine_RetriedUpdateForgetsAbortedSelection(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewFailingStore()
	en := NewEngine(store, "i")
	rival := NewEngine(store, "i")

	once := catchAll("once")
	once.Limiter = limiter.Times(1)
	_, _ = en.Add(ctx, once)

	store.ConflictOnce(func() {
		if _, err := rival.Evaluate(ctx, get("/")); err != nil {
			t.Errorf("rival Evaluate() error = %v", err)
		}
	})

	if e, err := en.Evaluate(ctx, get("/")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Evaluate() == %v, %v, wants ErrNoMatch", e, err)
	}

	list, _ := en.List(ctx)
	if list[0].Runs != 1 {
		t.Errorf("list[0].Runs == %d, wants %d", list[0].Runs, 1)
	}
}

func TestEngine_LimiterNotConsultedWhenMatcherFails(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	e := Expectation{Matcher: []matcher.Rule{matcher.Path("/a")}, Response: response.New(200, "a"), Limiter: limiter.Times(1)}
	_, _ = en.Add(ctx, e)

	for i := 0; i < 3; i++ {
		_, _ = en.Evaluate(ctx, get("/b"))
	}

	got, err := en.Evaluate(ctx, get("/a"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got.Runs != 1 {
		t.Errorf("got.Runs == %d, wants %d", got.Runs, 1)
	}
}

func TestEngine_RunsArePersistedInPlace(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	_, _ = en.Add(ctx, Expectation{Matcher: []matcher.Rule{matcher.Path("/old")}, Response: response.New(200, "old")})
	_, _ = en.Add(ctx, Expectation{Matcher: []matcher.Rule{matcher.Path("/new")}, Response: response.New(200, "new")})

	_, _ = en.Evaluate(ctx, get("/old"))
	_, _ = en.Evaluate(ctx, get("/old"))
	_, _ = en.Evaluate(ctx, get("/new"))

	list, err := en.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(list) != 2 {
		t.Fatalf("len(list) == %d, wants %d", len(list), 2)
	}
	if list[0].Response.Body != "new" || list[0].Runs != 1 {
		t.Errorf("list[0] == %s/%d, wants new/1", list[0].Response.Body, list[0].Runs)
	}
	if list[1].Response.Body != "old" || list[1].Runs != 2 {
		t.Errorf("list[1] == %s/%d, wants old/2", list[1].Response.Body, list[1].Runs)
	}
}

func TestEngine_ConcurrentEvaluationsRespectLimiter(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	limited := catchAll("limited")
	limited.Limiter = limiter.Times(10)
	_, _ = en.Add(ctx, limited)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := en.Evaluate(ctx, get("/")); err == nil {
				mu.Lock()
				matched++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if matched != 10 {
		t.Errorf("matched == %d, wants %d", matched, 10)
	}
}

func TestEngine_AddRejectsInvalidExpectation(t *testing.T) {
	ctx := context.Background()
	en := newEngine()

	invalid := []Expectation{
		{Matcher: []matcher.Rule{{Kind: "bogus"}}},
		{Limiter: &limiter.Limiter{Kind: "bogus"}},
		{Response: response.Template{Status: 1}},
	}

	for _, e := range invalid {
		if _, err := en.Add(ctx, e); err == nil {
			t.Errorf("Add(%+v) expected error", e)
		}
	}

	list, _ := en.List(ctx)
	if len(list) != 0 {
		t.Errorf("len(list) == %d, wants %d", len(list), 0)
	}
}

func TestEngine_Clear(t *testing.T) {
	ctx := context.Background()
	en := newEngine()
	_, _ = en.Add(ctx, catchAll("x"))

	if err := en.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if _, err := en.Evaluate(ctx, get("/")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Evaluate() after Clear error = %v, wants ErrNoMatch", err)
	}
}

func TestEngine_CompilesExpectationsAddedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemory()

	writer := NewEngine(store, "shared")
	reader := NewEngine(store, "shared")

	_, _ = writer.Add(ctx, catchAll("shared"))

	e, err := reader.Evaluate(ctx, get("/"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if e.Response.Body != "shared" {
		t.Errorf("e.Response.Body == %q, wants %q", e.Response.Body, "shared")
	}
}

func TestEngine_CorruptRecordIsStorageError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemory()
	_ = store.Store(ctx, "i", storage.Expectations, [][]byte{[]byte("not json")})

	_, err := NewEngine(store, "i").Evaluate(ctx, get("/"))
	if !errors.Is(err, storage.ErrStorage) {
		t.Errorf("Evaluate() error = %v, wants storage error", err)
	}
}
