// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package response holds the canned response sent back for a matched
// expectation.
package response

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"httpmock/request"
)

// Template describes the response of an expectation
type Template struct {
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`
	// Template renders Body with text/template, the recorded request as dot
	Template bool `json:"template,omitempty" yaml:"template,omitempty"`
	DelayMs  int  `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// New returns a template answering status with body
func New(status int, body string) Template {
	return Template{Status: status, Body: body}
}

// ErrNotATemplate is returned by Decode when the payload is not an object
var ErrNotATemplate = errors.New("response: payload is not a response template")

// ErrRender is returned by Render and Write when the body template fails
var ErrRender = errors.New("response: render body")

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v interface{}) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
}

// Decode parses a JSON template and validates it
func Decode(data []byte) (*Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotATemplate
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var t Template
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return &t, nil
}

// Validate checks the status range and the body template syntax
func (t Template) Validate() error {
	if t.Status != 0 && (t.Status < 100 || t.Status > 599) {
		return fmt.Errorf("response: invalid status %d", t.Status)
	}

	if t.DelayMs < 0 {
		return fmt.Errorf("response: invalid delay %d", t.DelayMs)
	}

	if t.Template {
		if _, err := template.New("body").Funcs(funcs).Parse(t.Body); err != nil {
			return fmt.Errorf("response: invalid body template: %w", err)
		}
	}

	return nil
}

// StatusCode returns the status, 200 when unset
func (t Template) StatusCode() int {
	if t.Status == 0 {
		return http.StatusOK
	}
	return t.Status
}

// Render returns the response body for req
func (t Template) Render(req *request.Request) ([]byte, error) {
	if !t.Template {
		return []byte(t.Body), nil
	}

	tpl, err := template.New("body").Funcs(funcs).Parse(t.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	var b bytes.Buffer
	if err := tpl.Execute(&b, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	return b.Bytes(), nil
}

// Write sends the response to w after the configured delay. The delay is
// abandoned when ctx ends.
func (t Template) Write(ctx context.Context, w http.ResponseWriter, req *request.Request) error {
	body, err := t.Render(req)
	if err != nil {
		return err
	}

	if t.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(t.DelayMs) * time.Millisecond)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for name, value := range t.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(t.StatusCode())

	_, err = w.Write(body)
	return err
}
