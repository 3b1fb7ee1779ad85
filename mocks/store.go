package mocks

import (
	"context"
	"errors"
	"sync"

	"httpmock/storage"
)

// ErrSimulated is the cause carried by injected failures
var ErrSimulated = errors.New("simulated storage failure")

// FailingStore wraps a real store and fails the operations switched on
// with FailOn.
type FailingStore struct {
	inner storage.Store

	mu       sync.Mutex
	ops      map[string]bool
	conflict func()
}

// NewFailingStore wraps an in-memory store
func NewFailingStore() *FailingStore {
	return &FailingStore{inner: storage.NewInMemory(), ops: make(map[string]bool)}
}

// FailOn makes every listed operation ("read", "store", "prepend",
// "append", "clear", "update") fail
func (s *FailingStore) FailOn(ops ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		s.ops[op] = true
	}
}

// ConflictOnce makes the next Update lose a race the way an optimistic
// transaction does: fn runs on the current records and its result is thrown
// away, interfere runs, then fn is retried against the new state.
func (s *FailingStore) ConflictOnce(interfere func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflict = interfere
}

func (s *FailingStore) fail(op, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ops[op] {
		return &storage.Error{Op: op, Collection: collection, Err: ErrSimulated}
	}
	return nil
}

func (s *FailingStore) Read(ctx context.Context, instance, collection string) ([][]byte, error) {
	if err := s.fail("read", collection); err != nil {
		return nil, err
	}
	return s.inner.Read(ctx, instance, collection)
}

func (s *FailingStore) Store(ctx context.Context, instance, collection string, records [][]byte) error {
	if err := s.fail("store", collection); err != nil {
		return err
	}
	return s.inner.Store(ctx, instance, collection, records)
}

func (s *FailingStore) Prepend(ctx context.Context, instance, collection string, record []byte) error {
	if err := s.fail("prepend", collection); err != nil {
		return err
	}
	return s.inner.Prepend(ctx, instance, collection, record)
}

func (s *FailingStore) Append(ctx context.Context, instance, collection string, record []byte) error {
	if err := s.fail("append", collection); err != nil {
		return err
	}
	return s.inner.Append(ctx, instance, collection, record)
}

func (s *FailingStore) Clear(ctx context.Context, instance, collection string) error {
	if err := s.fail("clear", collection); err != nil {
		return err
	}
	return s.inner.Clear(ctx, instance, collection)
}

func (s *FailingStore) Update(ctx context.Context, instance, collection string, fn storage.UpdateFunc) error {
	if err := s.fail("update", collection); err != nil {
		return err
	}

	s.mu.Lock()
	interfere := s.conflict
	s.conflict = nil
	s.mu.Unlock()

	if interfere != nil {
		records, err := s.inner.Read(ctx, instance, collection)
		if err != nil {
			return err
		}
		if _, _, err := fn(records); err != nil {
			return err
		}
		interfere()
	}

	return s.inner.Update(ctx, instance, collection, fn)
}

func (s *FailingStore) Close() error {
	return s.inner.Close()
}
