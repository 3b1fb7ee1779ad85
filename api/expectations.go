// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"httpmock/expectation"
	"httpmock/instance"
	"httpmock/limiter"
	"httpmock/logger"
	"httpmock/matcher"
	"httpmock/response"
)

// maxFormMemory bounds the multipart parts kept in memory
const maxFormMemory = 32 << 20

// parseExpectation reads the matcher, response and limiter form fields, in
// that order
func parseExpectation(r *http.Request) (expectation.Expectation, error) {
	var e expectation.Expectation

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return e, &ValidationError{Field: "response", Message: MsgResponseMissing}
	}

	if values, exists := r.PostForm["matcher"]; exists {
		rules, err := matcher.Decode([]byte(values[0]))
		if err != nil {
			logger.Debug("Rejected matcher", zap.Error(err))
			return e, &ValidationError{Field: "matcher", Message: MsgMatcherInvalid}
		}
		e.Matcher = rules
	}

	values, exists := r.PostForm["response"]
	if !exists {
		return e, &ValidationError{Field: "response", Message: MsgResponseMissing}
	}

	tpl, err := response.Decode([]byte(values[0]))
	if err != nil {
		logger.Debug("Rejected response", zap.Error(err))
		return e, &ValidationError{Field: "response", Message: MsgResponseInvalid}
	}
	e.Response = *tpl

	if values, exists := r.PostForm["limiter"]; exists {
		l, err := limiter.Decode([]byte(values[0]))
		if err != nil {
			logger.Debug("Rejected limiter", zap.Error(err))
			return e, &ValidationError{Field: "limiter", Message: MsgLimiterInvalid}
		}
		e.Limiter = l
	}

	return e, nil
}

// AddExpectation handler POST /_expectation
type AddExpectation struct {
	instance *instance.Instance
}

// NewAddExpectation returns a new AddExpectation handler
func NewAddExpectation(inst *instance.Instance) *AddExpectation {
	return &AddExpectation{instance: inst}
}

func (h *AddExpectation) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e, err := parseExpectation(r)
	if err != nil {
		writeError(w, "add_expectation", err)
		return
	}

	added, err := h.instance.Expectations.Add(r.Context(), e)
	if err != nil {
		writeError(w, "add_expectation", err)
		return
	}

	logger.Debug("Expectation registered", zap.String("expectation_id", added.ID), zap.String("instance_id", h.instance.ID))
	w.WriteHeader(http.StatusCreated)
}

// ListExpectations handler GET /_expectation
type ListExpectations struct {
	instance *instance.Instance
}

// NewListExpectations returns a new ListExpectations handler
func NewListExpectations(inst *instance.Instance) *ListExpectations {
	return &ListExpectations{instance: inst}
}

func (h *ListExpectations) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	expectations, err := h.instance.Expectations.List(r.Context())
	if err != nil {
		writeError(w, "list_expectations", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(expectations); err != nil {
		logger.Error("Error encoding expectations", zap.Error(err))
	}
}

// DeleteExpectations handler DELETE /_expectation
type DeleteExpectations struct {
	instance *instance.Instance
}

// NewDeleteExpectations returns a new DeleteExpectations handler
func NewDeleteExpectations(inst *instance.Instance) *DeleteExpectations {
	return &DeleteExpectations{instance: inst}
}

func (h *DeleteExpectations) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.instance.Expectations.Clear(r.Context()); err != nil {
		writeError(w, "clear_expectations", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteAll handler DELETE /_all
type DeleteAll struct {
	instance *instance.Instance
}

// NewDeleteAll returns a new DeleteAll handler
func NewDeleteAll(inst *instance.Instance) *DeleteAll {
	return &DeleteAll{instance: inst}
}

func (h *DeleteAll) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.instance.Reset(r.Context()); err != nil {
		writeError(w, "clear_all", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
