// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package response

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"httpmock/request"
)

func TestTemplate_Write(t *testing.T) {
	tpl := Template{Status: http.StatusTeapot, Headers: map[string]string{"X-Foo": "bar"}, Body: "fake body"}

	w := httptest.NewRecorder()
	require.NoError(t, tpl.Write(context.Background(), w, &request.Request{}))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "bar", w.Header().Get("X-Foo"))
	assert.Equal(t, "fake body", w.Body.String())
}

func TestTemplate_DefaultStatus(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, Template{}.Write(context.Background(), w, &request.Request{}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestTemplate_RenderUsesRequest(t *testing.T) {
	tpl := Template{
		Template: true,
		Body:     `{{.Method}} {{.Path | upper}} {{.Query.Get "id"}} {{json .Body}}`,
	}
	req := &request.Request{Method: "GET", Path: "/users", RawQuery: "id=7", Body: "x"}

	body, err := tpl.Render(req)
	require.NoError(t, err)
	assert.Equal(t, `GET /USERS 7 "x"`, string(body))
}

func TestTemplate_Delay(t *testing.T) {
	tpl := Template{DelayMs: 30}

	start := time.Now()
	require.NoError(t, tpl.Write(context.Background(), httptest.NewRecorder(), &request.Request{}))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Template{DelayMs: 10_000}.Write(ctx, httptest.NewRecorder(), &request.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecode(t *testing.T) {
	tpl, err := Decode([]byte(`{"status":201,"body":"created","headers":{"X-A":"b"}}`))
	require.NoError(t, err)
	assert.Equal(t, 201, tpl.Status)
	assert.Equal(t, "b", tpl.Headers["X-A"])

	for _, payload := range []string{``, `foo`, `[]`, `null`, `{"status":42}`, `{"status":200,"bogus":true}`, `{"template":true,"body":"{{"}`, `{"delay_ms":-1}`} {
		_, err := Decode([]byte(payload))
		assert.Error(t, err, "payload %q", payload)
	}
}
