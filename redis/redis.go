// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package redis provides a Redis backed collection store, letting several
// mock server processes share expectations and recorded requests.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"httpmock/logger"
	"httpmock/storage"
)

const (
	defaultKeyPrefix = "httpmock"
	// maxTxRetries bounds optimistic transaction retries on WATCH conflicts
	maxTxRetries = 16
)

// Options configures the Redis store
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// OptionsFromEnv reads REDIS_ADDR, REDIS_PASSWORD and REDIS_DB
func OptionsFromEnv() (Options, error) {
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return Options{}, fmt.Errorf("invalid REDIS_DB value: %w", err)
	}

	return Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
	}, nil
}

// Store keeps each collection in a Redis list
type Store struct {
	rdb    *redisv9.Client
	prefix string

	// locks serializes operations of this process per key, WATCH covers
	// writers living in other processes.
	locks sync.Map
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}

	rdb := redisv9.NewClient(&redisv9.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return &Store{rdb: rdb, prefix: opts.KeyPrefix}, nil
}

func (s *Store) key(instance, collection string) string {
	return fmt.Sprintf("%s:instance:%s:%s", s.prefix, instance, collection)
}

func (s *Store) lock(key string) func() {
	m, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func fail(op, collection string, err error) error {
	return &storage.Error{Op: op, Collection: collection, Err: err}
}

// Read returns the list stored for the collection
func (s *Store) Read(ctx context.Context, instance, collection string) ([][]byte, error) {
	key := s.key(instance, collection)
	defer s.lock(key)()

	records, err := readList(ctx, s.rdb, key)
	if err != nil {
		return nil, fail("read", collection, err)
	}

	return records, nil
}

// Store replaces the list in a single MULTI/EXEC
func (s *Store) Store(ctx context.Context, instance, collection string, records [][]byte) error {
	key := s.key(instance, collection)
	defer s.lock(key)()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		writeList(ctx, pipe, key, records)
		return nil
	})
	if err != nil {
		return fail("store", collection, err)
	}

	return nil
}

// Prepend pushes record at the head of the list
func (s *Store) Prepend(ctx context.Context, instance, collection string, record []byte) error {
	key := s.key(instance, collection)
	defer s.lock(key)()

	if err := s.rdb.LPush(ctx, key, record).Err(); err != nil {
		return fail("prepend", collection, err)
	}

	logger.Debug("Prepended record in Redis", zap.String("key", key))
	return nil
}

// Append pushes record at the tail of the list
func (s *Store) Append(ctx context.Context, instance, collection string, record []byte) error {
	key := s.key(instance, collection)
	defer s.lock(key)()

	if err := s.rdb.RPush(ctx, key, record).Err(); err != nil {
		return fail("append", collection, err)
	}

	logger.Debug("Appended record in Redis", zap.String("key", key))
	return nil
}

// Clear deletes the list
func (s *Store) Clear(ctx context.Context, instance, collection string) error {
	key := s.key(instance, collection)
	defer s.lock(key)()

	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fail("clear", collection, err)
	}

	return nil
}

// Update reads the list under WATCH and writes the result in MULTI/EXEC,
// retrying when another process touched the key in between.
func (s *Store) Update(ctx context.Context, instance, collection string, fn storage.UpdateFunc) error {
	key := s.key(instance, collection)
	defer s.lock(key)()

	var fnErr error

	txf := func(tx *redisv9.Tx) error {
		records, err := readList(ctx, tx, key)
		if err != nil {
			return err
		}

		updated, changed, err := fn(records)
		if err != nil {
			fnErr = err
			return err
		}

		if !changed {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			writeList(ctx, pipe, key, updated)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redisv9.TxFailedErr) {
			logger.Debug("Redis transaction conflict, retrying", zap.String("key", key), zap.Int("attempt", i+1))
			continue
		}
		return fail("update", collection, err)
	}

	return fail("update", collection, fmt.Errorf("transaction conflict after %d attempts", maxTxRetries))
}

// Close closes the Redis client
func (s *Store) Close() error {
	return s.rdb.Close()
}

func readList(ctx context.Context, c redisv9.Cmdable, key string) ([][]byte, error) {
	values, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([][]byte, len(values))
	for i, v := range values {
		records[i] = []byte(v)
	}

	return records, nil
}

func writeList(ctx context.Context, pipe redisv9.Pipeliner, key string, records [][]byte) {
	pipe.Del(ctx, key)

	if len(records) == 0 {
		return
	}

	values := make([]interface{}, len(records))
	for i, r := range records {
		values[i] = r
	}

	pipe.RPush(ctx, key, values...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
