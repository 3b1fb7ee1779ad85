// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package request captures intercepted HTTP requests in a form that can be
// stored, matched against, and rebuilt for inspection.
package request

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxBodyBytes bounds the captured body
const DefaultMaxBodyBytes int64 = 10 << 20

// ErrBodyTooLarge is returned by FromHTTP when the body exceeds the limit
var ErrBodyTooLarge = errors.New("request body too large")

// Request is an immutable capture of one intercepted request. Body holds
// the raw bytes; a body that is not valid UTF-8 is stored base64 encoded
// under body_base64.
type Request struct {
	ID         string      `json:"id"`
	Method     string      `json:"method"`
	URI        string      `json:"uri"`
	Path       string      `json:"path"`
	RawQuery   string      `json:"query,omitempty"`
	Proto      string      `json:"proto"`
	Host       string      `json:"host"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	ServerName string      `json:"server_name,omitempty"`
	ServerPort string      `json:"server_port,omitempty"`
	Header     http.Header `json:"header"`
	Body       string      `json:"body"`
	UserAgent  string      `json:"user_agent,omitempty"`
	User       string      `json:"user,omitempty"`
	Password   string      `json:"password,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// FromHTTP captures r. The body is put back so later handlers can still
// consume it. A body longer than maxBody bytes fails with ErrBodyTooLarge.
func FromHTTP(r *http.Request, maxBody int64) (*Request, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if int64(len(body)) > maxBody {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, maxBody)
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	serverName, serverPort, err := net.SplitHostPort(host)
	if err != nil {
		serverName = host
	}

	user, password, _ := r.BasicAuth()

	return &Request{
		ID:         uuid.New().String(),
		Method:     r.Method,
		URI:        r.URL.RequestURI(),
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Proto:      r.Proto,
		Host:       host,
		RemoteAddr: r.RemoteAddr,
		ServerName: serverName,
		ServerPort: serverPort,
		Header:     r.Header.Clone(),
		Body:       string(body),
		UserAgent:  r.UserAgent(),
		User:       user,
		Password:   password,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Query returns the parsed query string
func (r *Request) Query() url.Values {
	values, _ := url.ParseQuery(r.RawQuery)
	return values
}

// wire is Request without its JSON methods
type wire Request

type envelope struct {
	wire
	BodyBase64 string `json:"body_base64,omitempty"`
}

// MarshalJSON keeps binary bodies intact, encoding/json would replace
// invalid UTF-8 with U+FFFD.
func (r Request) MarshalJSON() ([]byte, error) {
	env := envelope{wire: wire(r)}
	if !utf8.ValidString(r.Body) {
		env.Body = ""
		env.BodyBase64 = base64.StdEncoding.EncodeToString([]byte(r.Body))
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes records written by MarshalJSON
func (r *Request) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*r = Request(env.wire)

	if env.BodyBase64 != "" {
		body, err := base64.StdEncoding.DecodeString(env.BodyBase64)
		if err != nil {
			return fmt.Errorf("invalid body_base64: %w", err)
		}
		r.Body = string(body)
	}

	return nil
}

// Marshal encodes the record for storage
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a stored record
func Unmarshal(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid request record: %w", err)
	}
	return &r, nil
}

// Raw renders the record as an HTTP/1.x request message
func (r *Request) Raw() []byte {
	var b bytes.Buffer

	proto := r.Proto
	if proto == "" || !strings.HasPrefix(proto, "HTTP/1") {
		proto = "HTTP/1.1"
	}

	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.URI, proto)
	if r.Host != "" {
		fmt.Fprintf(&b, "Host: %s\r\n", r.Host)
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range r.Header[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}

	if r.Body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
	}

	b.WriteString("\r\n")
	b.WriteString(r.Body)

	return b.Bytes()
}

// Parse reads a raw HTTP/1.x message as produced by Raw
func Parse(raw []byte) (*http.Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid raw request: %w", err)
	}
	return req, nil
}
