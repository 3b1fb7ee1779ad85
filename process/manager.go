// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package process runs a mock server as a child process for a test
// harness: it waits for readiness, resets state between tests and reports
// unexpected server output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"httpmock/client"
	"httpmock/logger"
)

var errStoppedDuringStartup = errors.New("server stopped during startup")

// State of the managed process
type State int

// States
const (
	NotStarted State = iota
	Starting
	Ready
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// DefaultProbeTimeout bounds one readiness probe
const DefaultProbeTimeout = time.Second

// Config describes the child process
type Config struct {
	Host string
	Port int

	// Command is the server argv; --host and --port are appended
	Command []string
	Dir     string
	// Env is added to the current environment
	Env []string

	Backoff      FibonacciBackoff
	ProbeTimeout time.Duration
}

// outputBuffer collects a stream and remembers how much was read
// incrementally
type outputBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	offset int
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *outputBuffer) Incremental() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.buf.String()[b.offset:]
	b.offset = b.buf.Len()
	return out
}

func (b *outputBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Reset()
	b.offset = 0
}

// Manager owns one mock server process
type Manager struct {
	mu    sync.Mutex
	conf  Config
	state State

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error

	stdout outputBuffer
	stderr outputBuffer

	client *client.Client
}

// New returns a manager for conf; nothing is started
func New(conf Config) *Manager {
	if conf.Host == "" {
		conf.Host = "127.0.0.1"
	}
	if conf.ProbeTimeout <= 0 {
		conf.ProbeTimeout = DefaultProbeTimeout
	}
	if conf.Backoff == (FibonacciBackoff{}) {
		conf.Backoff = DefaultBackoff()
	}

	m := &Manager{conf: conf, state: NotStarted}
	m.client = client.New(m.BaseURL(), client.WithTimeout(conf.ProbeTimeout))

	return m
}

// ConnectionString returns host:port
func (m *Manager) ConnectionString() string {
	return net.JoinHostPort(m.conf.Host, strconv.Itoa(m.conf.Port))
}

// BaseURL returns the server root URL
func (m *Manager) BaseURL() string {
	return "http://" + m.ConnectionString()
}

// Client returns a control client bound to the server
func (m *Manager) Client() *client.Client {
	return m.client
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// transition moves to the state to only when the manager is still in from
func (m *Manager) transition(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// Start launches the server and blocks until it answers the readiness
// probe. A server that exits or never answers is killed and a
// *StartupError is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Ready:
		m.mu.Unlock()
		return nil
	case Starting, Stopping:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("httpmock: cannot start a %s server", state)
	}

	if len(m.conf.Command) == 0 {
		m.mu.Unlock()
		return errors.New("httpmock: no server command configured")
	}

	args := append([]string{}, m.conf.Command[1:]...)
	args = append(args, "--host", m.conf.Host, "--port", strconv.Itoa(m.conf.Port))

	cmd := exec.Command(m.conf.Command[0], args...) //nolint:gosec
	cmd.Dir = m.conf.Dir
	cmd.Env = append(os.Environ(), m.conf.Env...)
	cmd.Stdout = &m.stdout
	cmd.Stderr = &m.stderr

	if err := cmd.Start(); err != nil {
		m.state = Failed
		m.mu.Unlock()
		return &StartupError{Err: err}
	}

	exited := make(chan struct{})
	m.cmd = cmd
	m.exited = exited
	m.state = Starting
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()
		m.mu.Lock()
		m.waitErr = err
		m.mu.Unlock()
		close(exited)
	}()

	logger.Debug("Waiting for mock server", zap.String("host", m.ConnectionString()), zap.Int("pid", cmd.Process.Pid))

	err := m.conf.Backoff.Retry(ctx, func(ctx context.Context) error {
		select {
		case <-exited:
			m.mu.Lock()
			waitErr := m.waitErr
			m.mu.Unlock()
			return Permanent(fmt.Errorf("server exited during startup: %v", waitErr))
		default:
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.conf.ProbeTimeout)
		defer cancel()

		return m.client.Ping(probeCtx)
	})
	if err != nil {
		m.kill()
		// Stop may have taken over while the probe was waiting
		m.transition(Starting, Failed)
		logger.Warn("Mock server failed to start", zap.Error(err))
		return err
	}

	if !m.transition(Starting, Ready) {
		return &StartupError{Err: errStoppedDuringStartup}
	}
	logger.Debug("Mock server ready", zap.String("host", m.ConnectionString()))
	return nil
}

func (m *Manager) kill() {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exited:
		return
	default:
	}

	_ = cmd.Process.Kill()
	<-exited
}

// Stop sends SIGTERM, waits up to timeout and kills the server if it is
// still running. Stopping a server that is not running does nothing.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if m.state != Ready && m.state != Starting {
		m.mu.Unlock()
		return nil
	}

	m.state = Stopping
	cmd, exited := m.cmd, m.exited
	m.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("Failed to signal mock server", zap.Error(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		logger.Warn("Mock server did not stop in time, killing it", zap.Duration("timeout", timeout))
		_ = cmd.Process.Kill()
		<-exited
	}

	m.setState(Stopped)
	return nil
}

// CleanBeforeTest starts the server when needed and clears both
// collections
func (m *Manager) CleanBeforeTest(ctx context.Context) error {
	if m.State() != Ready {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}

	return m.client.ClearAll(ctx)
}

// Output returns everything the server wrote to stdout
func (m *Manager) Output() string {
	return m.stdout.String()
}

// ErrorOutput returns the server's stderr without benign lines
func (m *Manager) ErrorOutput() string {
	return Filter(m.stderr.String())
}

// IncrementalErrorOutput returns the filtered stderr written since the
// previous call
func (m *Manager) IncrementalErrorOutput() string {
	return Filter(m.stderr.Incremental())
}

// AddErrorOutput appends s to the captured stderr
func (m *Manager) AddErrorOutput(s string) {
	_, _ = m.stderr.Write([]byte(s))
}

// ClearErrorOutput drops the captured stderr
func (m *Manager) ClearErrorOutput() {
	m.stderr.Reset()
}

// Anomalies returns an *AnomalyError when the captured stderr holds
// anything but benign lines
func (m *Manager) Anomalies() error {
	if lines := anomalies(m.stderr.String()); len(lines) > 0 {
		return &AnomalyError{Lines: lines}
	}
	return nil
}
