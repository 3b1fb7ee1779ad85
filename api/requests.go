// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"httpmock/instance"
	"httpmock/logger"
	"httpmock/request"
	"httpmock/requestlog"
)

// writeRecord answers with the raw HTTP message, or the JSON record when the
// caller accepts JSON
func writeRecord(w http.ResponseWriter, r *http.Request, rec *request.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		data, err := rec.Marshal()
		if err != nil {
			writeError(w, "encode_request", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			logger.Error("Error writing response", zap.Error(err))
		}
		return
	}

	writeText(w, http.StatusOK, string(rec.Raw()))
}

// CountRequests handler GET /_request/count
type CountRequests struct {
	instance *instance.Instance
}

// NewCountRequests returns a new CountRequests handler
func NewCountRequests(inst *instance.Instance) *CountRequests {
	return &CountRequests{instance: inst}
}

func (h *CountRequests) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	count, err := h.instance.Requests.Count(r.Context())
	if err != nil {
		writeError(w, "count_requests", err)
		return
	}

	writeText(w, http.StatusOK, strconv.Itoa(count))
}

// GetRequest handler GET /_request/{selector}
type GetRequest struct {
	instance *instance.Instance
}

// NewGetRequest returns a new GetRequest handler
func NewGetRequest(inst *instance.Instance) *GetRequest {
	return &GetRequest{instance: inst}
}

func (h *GetRequest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["selector"]

	sel, err := requestlog.ParseSelector(raw)
	if err != nil {
		writeText(w, http.StatusNotFound, fmt.Sprintf("%s not available", raw))
		return
	}

	rec, err := h.instance.Requests.Get(r.Context(), sel)
	if errors.Is(err, requestlog.ErrNotFound) {
		if sel.Edge == requestlog.None {
			writeText(w, http.StatusNotFound, fmt.Sprintf("Index %d not found", sel.Index))
			return
		}
		writeText(w, http.StatusNotFound, fmt.Sprintf("%s not available", sel))
		return
	}
	if err != nil {
		writeError(w, "get_request", err)
		return
	}

	writeRecord(w, r, rec)
}

// PopRequest handler DELETE /_request/{first|last}
type PopRequest struct {
	instance *instance.Instance
}

// NewPopRequest returns a new PopRequest handler
func NewPopRequest(inst *instance.Instance) *PopRequest {
	return &PopRequest{instance: inst}
}

func (h *PopRequest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["selector"]

	sel, err := requestlog.ParseSelector(raw)
	if err != nil {
		writeText(w, http.StatusNotFound, fmt.Sprintf("%s not possible", raw))
		return
	}

	if sel.Edge == requestlog.None {
		writeText(w, http.StatusBadRequest, "Only first or last request can be removed")
		return
	}

	rec, err := h.instance.Requests.Pop(r.Context(), sel)
	if errors.Is(err, requestlog.ErrNotFound) {
		writeText(w, http.StatusNotFound, fmt.Sprintf("%s not possible", sel))
		return
	}
	if err != nil {
		writeError(w, "pop_request", err)
		return
	}

	writeRecord(w, r, rec)
}

// DeleteRequests handler DELETE /_request
type DeleteRequests struct {
	instance *instance.Instance
}

// NewDeleteRequests returns a new DeleteRequests handler
func NewDeleteRequests(inst *instance.Instance) *DeleteRequests {
	return &DeleteRequests{instance: inst}
}

func (h *DeleteRequests) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.instance.Requests.Clear(r.Context()); err != nil {
		writeError(w, "clear_requests", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Me handler GET|HEAD /_me, the readiness probe target
type Me struct{}

// MeBody identifies the probe endpoint
const MeBody = "O RLY?"

func (h *Me) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, MeBody)
}
