// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"httpmock/logger"
	"httpmock/storage"
)

// Messages answered with 417 for a malformed POST /_expectation
const (
	MsgMatcherInvalid  = `POST data key "matcher" must be a serialized list of matchers`
	MsgResponseMissing = `POST data key "response" not found in POST data`
	MsgResponseInvalid = `POST data key "response" must be a serialized response template`
	MsgLimiterInvalid  = `POST data key "limiter" must be a serialized limiter`
)

// MsgStorageFailure is the body of a 500 caused by the store
const MsgStorageFailure = "storage failure"

// ValidationError is a malformed control payload
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// writeText answers with a plain text body, written as is
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if _, err := io.WriteString(w, body); err != nil {
		logger.Error("Error writing response", zap.Error(err))
	}
}

// writeError maps err to its HTTP answer. Store failures are logged and
// reported as 500.
func writeError(w http.ResponseWriter, op string, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		writeText(w, http.StatusExpectationFailed, validationErr.Message)
		return
	}

	if errors.Is(err, storage.ErrStorage) {
		logger.ErrorWithErr("Storage failure", err, zap.String("op", op))
		writeText(w, http.StatusInternalServerError, MsgStorageFailure)
		return
	}

	logger.ErrorWithErr("Unexpected error", err, zap.String("op", op))
	writeText(w, http.StatusInternalServerError, err.Error())
}
