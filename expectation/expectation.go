// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package expectation stores expectations newest first and picks the one
// answering an intercepted request.
package expectation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"httpmock/limiter"
	"httpmock/logger"
	"httpmock/matcher"
	"httpmock/request"
	"httpmock/response"
	"httpmock/storage"
)

// ErrNoMatch is returned by Evaluate when no expectation applies
var ErrNoMatch = errors.New("no matching expectation")

// Expectation maps a request matcher and a run-count limiter to a response
type Expectation struct {
	ID        string            `json:"id" yaml:"-"`
	Matcher   []matcher.Rule    `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	Response  response.Template `json:"response" yaml:"response"`
	Limiter   *limiter.Limiter  `json:"limiter,omitempty" yaml:"limiter,omitempty"`
	Runs      int               `json:"runs" yaml:"-"`
	Eligible  int               `json:"eligible" yaml:"-"`
	CreatedAt time.Time         `json:"created_at" yaml:"-"`
}

type compiled struct {
	matcher matcher.Predicate
	limiter limiter.Predicate
}

// compile validates every part of the expectation
func (e *Expectation) compile() (*compiled, error) {
	m, err := matcher.Compile(e.Matcher)
	if err != nil {
		return nil, err
	}

	l, err := e.Limiter.Compile()
	if err != nil {
		return nil, err
	}

	if err := e.Response.Validate(); err != nil {
		return nil, err
	}

	return &compiled{matcher: m, limiter: l}, nil
}

// Validate reports whether the expectation can be evaluated
func (e *Expectation) Validate() error {
	_, err := e.compile()
	return err
}

// Engine evaluates the expectations collection of one server instance
type Engine struct {
	store    storage.Store
	instance string

	// cache holds compiled predicates by expectation ID
	cacheMu sync.Mutex
	cache   map[string]*compiled
}

// NewEngine returns the engine of instance
func NewEngine(store storage.Store, instance string) *Engine {
	return &Engine{store: store, instance: instance, cache: make(map[string]*compiled)}
}

// Add stores e ahead of every existing expectation and returns it with its
// assigned ID.
func (en *Engine) Add(ctx context.Context, e Expectation) (Expectation, error) {
	c, err := e.compile()
	if err != nil {
		return e, err
	}

	e.ID = uuid.New().String()
	e.Runs = 0
	e.Eligible = 0
	e.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("failed to encode expectation: %w", err)
	}

	if err := en.store.Prepend(ctx, en.instance, storage.Expectations, data); err != nil {
		return e, err
	}

	en.remember(e.ID, c)

	logger.Debug("Expectation added", zap.String("instance_id", en.instance), zap.String("expectation_id", e.ID))
	return e, nil
}

// Evaluate walks the expectations newest first and returns the first whose
// matcher accepts r and whose limiter accepts its counters. Every expectation
// whose matcher accepts r has its eligible count incremented in place, the
// selected one its run count as well.
func (en *Engine) Evaluate(ctx context.Context, r *request.Request) (*Expectation, error) {
	var selected *Expectation

	err := en.store.Update(ctx, en.instance, storage.Expectations, func(records [][]byte) ([][]byte, bool, error) {
		// The store may run fn again after a conflicting write
		selected = nil
		changed := false

		for i, record := range records {
			var e Expectation
			if err := json.Unmarshal(record, &e); err != nil {
				return nil, false, &storage.Error{Op: "decode", Collection: storage.Expectations, Err: err}
			}

			c, err := en.compiled(&e)
			if err != nil {
				return nil, false, &storage.Error{Op: "decode", Collection: storage.Expectations, Err: err}
			}

			if !c.matcher(r) {
				continue
			}

			allowed := c.limiter(e.Runs, e.Eligible)

			e.Eligible++
			if allowed {
				e.Runs++
			}

			data, err := json.Marshal(e)
			if err != nil {
				return nil, false, err
			}

			records[i] = data
			changed = true

			if allowed {
				selected = &e
				return records, true, nil
			}
		}

		return records, changed, nil
	})
	if err != nil {
		return nil, err
	}

	if selected == nil {
		return nil, ErrNoMatch
	}

	return selected, nil
}

// List returns the expectations in evaluation order
func (en *Engine) List(ctx context.Context) ([]Expectation, error) {
	records, err := en.store.Read(ctx, en.instance, storage.Expectations)
	if err != nil {
		return nil, err
	}

	out := make([]Expectation, 0, len(records))
	for _, record := range records {
		var e Expectation
		if err := json.Unmarshal(record, &e); err != nil {
			return nil, &storage.Error{Op: "decode", Collection: storage.Expectations, Err: err}
		}
		out = append(out, e)
	}

	return out, nil
}

// Clear removes every expectation
func (en *Engine) Clear(ctx context.Context) error {
	if err := en.store.Clear(ctx, en.instance, storage.Expectations); err != nil {
		return err
	}

	en.cacheMu.Lock()
	en.cache = make(map[string]*compiled)
	en.cacheMu.Unlock()

	return nil
}

func (en *Engine) remember(id string, c *compiled) {
	en.cacheMu.Lock()
	defer en.cacheMu.Unlock()

	en.cache[id] = c
}

func (en *Engine) compiled(e *Expectation) (*compiled, error) {
	en.cacheMu.Lock()
	c, exists := en.cache[e.ID]
	en.cacheMu.Unlock()

	if exists {
		return c, nil
	}

	// Added by another process sharing the store
	c, err := e.compile()
	if err != nil {
		return nil, err
	}

	en.remember(e.ID, c)
	return c, nil
}
