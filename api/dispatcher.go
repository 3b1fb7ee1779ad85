// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the control surface and the catch-all dispatcher
// answering intercepted requests.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"httpmock/expectation"
	"httpmock/instance"
	"httpmock/logger"
	"httpmock/request"
	"httpmock/response"
)

// NoMatchHeader marks the fallback sent when no expectation applies
const NoMatchHeader = "X-Httpmock-No-Match"

// Dispatcher records every request that is not addressed to the control
// surface and answers it with the newest applicable expectation.
type Dispatcher struct {
	instance *instance.Instance
}

// NewDispatcher returns a new Dispatcher handler
func NewDispatcher(inst *instance.Instance) *Dispatcher {
	return &Dispatcher{instance: inst}
}

func (h *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := request.FromHTTP(r, h.instance.MaxBodyBytes)
	if errors.Is(err, request.ErrBodyTooLarge) {
		logger.Warn("Rejected oversized request", zap.Error(err), zap.String("uri", r.RequestURI))
		writeText(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		logger.Warn("Failed to read request", zap.Error(err), zap.String("uri", r.RequestURI))
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	h.instance.Stats.Add("TotalRequests", 1)

	if err := h.instance.Requests.Append(ctx, rec); err != nil {
		writeError(w, "record_request", err)
		return
	}

	h.instance.Publish(rec)

	e, err := h.instance.Expectations.Evaluate(ctx, rec)
	if errors.Is(err, expectation.ErrNoMatch) {
		h.instance.Stats.Add("UnmatchedRequests", 1)
		logger.LogMatch(rec.Method, rec.URI, "", false)

		w.Header().Set(NoMatchHeader, "1")
		writeText(w, http.StatusNotImplemented, fmt.Sprintf("No matching expectation for %s %s", rec.Method, rec.URI))
		return
	}
	if err != nil {
		writeError(w, "evaluate", err)
		return
	}

	h.instance.Stats.Add("MatchedRequests", 1)
	logger.LogMatch(rec.Method, rec.URI, e.ID, true)

	err = e.Response.Write(ctx, w, rec)
	if errors.Is(err, response.ErrRender) {
		logger.ErrorWithErr("Failed to render response", err, zap.String("expectation_id", e.ID))
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		logger.Warn("Failed to send response", zap.Error(err), zap.String("expectation_id", e.ID))
	}
}

// MethodNotAllowed answers a reserved path called with another method
type MethodNotAllowed struct{}

func (h *MethodNotAllowed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path))
}
