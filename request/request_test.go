// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTP_CapturesTransportMetadata(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://localhost:8086/foo/bar?x=1&y=2", strings.NewReader("post=data"))
	r.Header.Set("X-Special", "1")
	r.Header.Set("User-Agent", "CUSTOM UA")
	r.SetBasicAuth("username", "password")

	rec, err := FromHTTP(r, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "/foo/bar", rec.Path)
	assert.Equal(t, "/foo/bar?x=1&y=2", rec.URI)
	assert.Equal(t, "2", rec.Query().Get("y"))
	assert.Equal(t, "localhost", rec.ServerName)
	assert.Equal(t, "8086", rec.ServerPort)
	assert.Equal(t, "username", rec.User)
	assert.Equal(t, "password", rec.Password)
	assert.Equal(t, "CUSTOM UA", rec.UserAgent)
	assert.Equal(t, "HTTP/1.1", rec.Proto)
	assert.Equal(t, "post=data", rec.Body)
	assert.Equal(t, "1", rec.Header.Get("X-Special"))

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "post=data", string(body), "body must stay readable after capture")
}

func TestFromHTTP_RejectsOversizedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "/x", strings.NewReader("0123456789"))

	_, err := FromHTTP(r, 4)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	r = httptest.NewRequest(http.MethodPut, "/x", strings.NewReader("0123"))
	rec, err := FromHTTP(r, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", rec.Body)
}

func TestMarshal_BinaryBody(t *testing.T) {
	body := []byte{0x00, 0xff, 0xfe, 0x80, 0x61}
	r := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))

	rec, err := FromHTTP(r, 0)
	require.NoError(t, err)

	data, err := rec.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"body_base64":"AP/+gGE="`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, body, []byte(back.Body))

	raw := back.Raw()
	assert.True(t, bytes.HasSuffix(raw, body), "raw message must end with the exact body")
}

func TestMarshal_TextBodyStaysReadable(t *testing.T) {
	rec := &Request{Method: http.MethodPost, Body: `{"total":3}`}

	data, err := rec.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"body":"{\"total\":3}"`)
	assert.NotContains(t, string(data), "body_base64")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Body, back.Body)
}

func TestMarshalUnmarshal(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/req/0", nil)
	rec, err := FromHTTP(r, 0)
	require.NoError(t, err)

	data, err := rec.Marshal()
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, "/req/0", back.Path)

	_, err = Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestRawRoundTrip(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/foobar?q=1", strings.NewReader("post=data"))
	r.Header.Set("X-Special", "1")
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec, err := FromHTTP(r, 0)
	require.NoError(t, err)

	parsed, err := Parse(rec.Raw())
	require.NoError(t, err)

	assert.Equal(t, "POST", parsed.Method)
	assert.Equal(t, "/foobar", parsed.URL.Path)
	assert.Equal(t, "1", parsed.URL.Query().Get("q"))
	assert.Equal(t, "example.com", parsed.Host)
	assert.Equal(t, "1", parsed.Header.Get("X-Special"))

	body, _ := io.ReadAll(parsed.Body)
	assert.Equal(t, "post=data", string(body))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("garbage"))
	assert.Error(t, err)
}
