// Package mocks provides test doubles for sockets and stores.
package mocks

import (
	"sync"
	"time"
)

// MockSocket is a mock implementation of Socket
// used in the test suite
type MockSocket struct {
	mu       sync.Mutex
	messages []interface{}
	writeErr error
	delay    time.Duration
}

// NewMockSocket creates a new mock socket
func NewMockSocket() *MockSocket {
	return &MockSocket{
		messages: make([]interface{}, 0),
	}
}

// WriteJSON records the message and returns the configured error
func (s *MockSocket) WriteJSON(i interface{}) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.messages = append(s.messages, i)
	return nil
}

// SetWriteError sets the error to return on WriteJSON
func (s *MockSocket) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// GetMessages returns all messages written to this socket
func (s *MockSocket) GetMessages() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]interface{}, len(s.messages))
	copy(result, s.messages)
	return result
}

// MessageCount returns the number of messages written
func (s *MockSocket) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// SetDelay makes every WriteJSON block for d, like a stalled peer
func (s *MockSocket) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// WaitForMessages polls until n messages were written or timeout elapses
func (s *MockSocket) WaitForMessages(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.MessageCount() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
