// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package limiter implements declarative run-count gates for expectations.
package limiter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
)

// Kind selects the behaviour of a Limiter
type Kind string

// Limiter kinds
const (
	// KindTimes allows a match while runs < N
	KindTimes Kind = "times"
	// KindAfter allows a match once the matcher accepted N earlier requests
	KindAfter Kind = "after"
	// KindExpr evaluates a boolean expression over runs and eligible
	KindExpr Kind = "expr"
)

// Limiter gates an expectation on how often it already matched
type Limiter struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	N     int    `json:"n,omitempty" yaml:"n,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Predicate reports whether an expectation may match. runs counts the
// requests it answered, eligible the earlier requests its matcher accepted
// whether or not the limiter let them through.
type Predicate func(runs, eligible int) bool

// Times allows at most n matches
func Times(n int) *Limiter { return &Limiter{Kind: KindTimes, N: n} }

// After skips the first n eligible requests
func After(n int) *Limiter { return &Limiter{Kind: KindAfter, N: n} }

// Expr gates on an expression such as "runs < 3 || eligible == 10"
func Expr(e string) *Limiter { return &Limiter{Kind: KindExpr, Value: e} }

// ErrNotALimiter is returned by Decode when the payload is not an object
var ErrNotALimiter = errors.New("limiter: payload is not a limiter")

// Decode parses a JSON limiter and checks that it compiles
func Decode(data []byte) (*Limiter, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotALimiter
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var l Limiter
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}

	if _, err := l.Compile(); err != nil {
		return nil, err
	}

	return &l, nil
}

// Compile validates the limiter. A nil limiter always allows.
func (l *Limiter) Compile() (Predicate, error) {
	if l == nil {
		return func(int, int) bool { return true }, nil
	}

	switch l.Kind {
	case KindTimes, KindAfter:
		if l.N < 0 {
			return nil, fmt.Errorf("limiter: %s requires n >= 0", l.Kind)
		}
		n := l.N
		if l.Kind == KindTimes {
			return func(runs, _ int) bool { return runs < n }, nil
		}
		return func(_, eligible int) bool { return eligible >= n }, nil

	case KindExpr:
		program, err := expr.Compile(l.Value, expr.Env(map[string]interface{}{"runs": 0, "eligible": 0}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("limiter: invalid expression %q: %w", l.Value, err)
		}
		return func(runs, eligible int) bool {
			out, err := expr.Run(program, map[string]interface{}{"runs": runs, "eligible": eligible})
			if err != nil {
				return false
			}
			ok, _ := out.(bool)
			return ok
		}, nil
	}

	return nil, fmt.Errorf("limiter: unknown kind %q", l.Kind)
}
