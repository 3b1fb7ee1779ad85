// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package requestlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"httpmock/mocks"
	"httpmock/request"
	"httpmock/storage"
)

func newLog(t *testing.T, n int) *Log {
	t.Helper()

	l := New(storage.NewInMemory(), "test-instance")
	for i := 0; i < n; i++ {
		r := &request.Request{ID: fmt.Sprint(i), Method: "GET", Path: fmt.Sprintf("/req/%d", i)}
		if err := l.Append(context.Background(), r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	return l
}

func path(t *testing.T, l *Log, sel Selector) string {
	t.Helper()

	r, err := l.Get(context.Background(), sel)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", sel, err)
	}
	return r.Path
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in   string
		want Selector
	}{
		{"first", Selector{Edge: First}},
		{"last", Selector{Edge: Last}},
		{"latest", Selector{Edge: Last}},
		{"0", Index(0)},
		{"12", Index(12)},
	}

	for _, tt := range tests {
		got, err := ParseSelector(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSelector(%q) == %v, %v, wants %v", tt.in, got, err, tt.want)
		}
	}

	for _, in := range []string{"", "-1", "foo", "1.5"} {
		if _, err := ParseSelector(in); err == nil {
			t.Errorf("ParseSelector(%q) expected error", in)
		}
	}
}

func TestLog_GetByPosition(t *testing.T) {
	l := newLog(t, 4)

	if got := path(t, l, Selector{Edge: Last}); got != "/req/3" {
		t.Errorf("Get(last) == %q, wants %q", got, "/req/3")
	}

	if got := path(t, l, Selector{Edge: First}); got != "/req/0" {
		t.Errorf("Get(first) == %q, wants %q", got, "/req/0")
	}

	for i := 0; i < 4; i++ {
		if got := path(t, l, Index(i)); got != fmt.Sprintf("/req/%d", i) {
			t.Errorf("Get(%d) == %q", i, got)
		}
	}

	if _, err := l.Get(context.Background(), Index(4)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(4) error = %v, wants ErrNotFound", err)
	}
}

func TestLog_EmptyLog(t *testing.T) {
	l := newLog(t, 0)
	ctx := context.Background()

	for _, sel := range []Selector{{Edge: First}, {Edge: Last}, Index(0)} {
		if _, err := l.Get(ctx, sel); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) error = %v, wants ErrNotFound", sel, err)
		}
	}

	if _, err := l.PopFirst(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("PopFirst() error = %v, wants ErrNotFound", err)
	}

	if _, err := l.PopLast(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("PopLast() error = %v, wants ErrNotFound", err)
	}

	if n, _ := l.Count(ctx); n != 0 {
		t.Errorf("Count() == %d, wants %d", n, 0)
	}
}

func TestLog_PopShiftsIndices(t *testing.T) {
	l := newLog(t, 4)
	ctx := context.Background()

	last, err := l.PopLast(ctx)
	if err != nil || last.Path != "/req/3" {
		t.Fatalf("PopLast() == %v, %v", last, err)
	}

	first, err := l.PopFirst(ctx)
	if err != nil || first.Path != "/req/0" {
		t.Fatalf("PopFirst() == %v, %v", first, err)
	}

	if got := path(t, l, Index(0)); got != "/req/1" {
		t.Errorf("Get(0) == %q, wants %q", got, "/req/1")
	}

	if got := path(t, l, Index(1)); got != "/req/2" {
		t.Errorf("Get(1) == %q, wants %q", got, "/req/2")
	}

	if _, err := l.Get(ctx, Index(2)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(2) error = %v, wants ErrNotFound", err)
	}

	if n, _ := l.Count(ctx); n != 2 {
		t.Errorf("Count() == %d, wants %d", n, 2)
	}
}

func TestLog_PopRetryDoesNotReturnTakenRecord(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewFailingStore()
	l := New(store, "i")
	rival := New(store, "i")

	if err := l.Append(ctx, &request.Request{ID: "0", Path: "/req/0"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	store.ConflictOnce(func() {
		if _, err := rival.PopFirst(ctx); err != nil {
			t.Errorf("rival PopFirst() error = %v", err)
		}
	})

	if r, err := l.PopFirst(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("PopFirst() == %v, %v, wants ErrNotFound", r, err)
	}
}

func TestLog_PopRejectsIndex(t *testing.T) {
	l := newLog(t, 2)

	if _, err := l.Pop(context.Background(), Index(1)); err == nil {
		t.Error("Pop(1) expected error")
	}

	r, err := l.Pop(context.Background(), Selector{Edge: Last})
	if err != nil || r.Path != "/req/1" {
		t.Errorf("Pop(last) == %v, %v", r, err)
	}
}

func TestLog_AllAndClear(t *testing.T) {
	l := newLog(t, 3)
	ctx := context.Background()

	all, err := l.All(ctx)
	if err != nil || len(all) != 3 || all[2].Path != "/req/2" {
		t.Fatalf("All() == %v, %v", all, err)
	}

	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if n, _ := l.Count(ctx); n != 0 {
		t.Errorf("Count() after Clear == %d, wants %d", n, 0)
	}
}
