// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package postgres provides a PostgreSQL backed collection store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"httpmock/logger"
	"httpmock/storage"
)

const (
	// DefaultTable holds one row per (instance, collection)
	DefaultTable     = "httpmock_collections"
	operationTimeout = 5 * time.Second
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Store keeps each collection as a JSON array in a single row
type Store struct {
	dsn    string
	table  string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewStore validates the DSN and table name. The connection is opened on
// first use.
func NewStore(dsn, table string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}

	if table == "" {
		table = DefaultTable
	}

	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}

	return &Store{dsn: dsn, table: table, openDB: sql.Open}, nil
}

func (s *Store) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}

		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instance_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			records TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (instance_id, collection)
		)`, s.table)

		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}

		s.db = db
		logger.Info("Connected to Postgres", zap.String("table", s.table))
	})

	return s.initErr
}

func fail(op, collection string, err error) error {
	return &storage.Error{Op: op, Collection: collection, Err: err}
}

func encode(records [][]byte) (string, error) {
	if records == nil {
		records = [][]byte{}
	}
	data, err := json.Marshal(records)
	return string(data), err
}

func decode(payload string) ([][]byte, error) {
	var records [][]byte
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Read returns the records of the collection
func (s *Store) Read(ctx context.Context, instance, collection string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.ensureReady(ctx); err != nil {
		return nil, fail("read", collection, err)
	}

	query := fmt.Sprintf("SELECT records FROM %s WHERE instance_id = $1 AND collection = $2", s.table)

	var payload string
	err := s.db.QueryRowContext(ctx, query, instance, collection).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, fail("read", collection, err)
	}

	records, err := decode(payload)
	if err != nil {
		return nil, fail("read", collection, err)
	}

	return records, nil
}

// Store replaces the collection row
func (s *Store) Store(ctx context.Context, instance, collection string, records [][]byte) error {
	return s.Update(ctx, instance, collection, func([][]byte) ([][]byte, bool, error) {
		return records, true, nil
	})
}

// Prepend inserts record at the head of the collection
func (s *Store) Prepend(ctx context.Context, instance, collection string, record []byte) error {
	return s.Update(ctx, instance, collection, func(records [][]byte) ([][]byte, bool, error) {
		return append([][]byte{record}, records...), true, nil
	})
}

// Append inserts record at the tail of the collection
func (s *Store) Append(ctx context.Context, instance, collection string, record []byte) error {
	return s.Update(ctx, instance, collection, func(records [][]byte) ([][]byte, bool, error) {
		return append(records, record), true, nil
	})
}

// Clear empties the collection
func (s *Store) Clear(ctx context.Context, instance, collection string) error {
	return s.Store(ctx, instance, collection, nil)
}

// Update locks the collection row for the duration of fn
func (s *Store) Update(ctx context.Context, instance, collection string, fn storage.UpdateFunc) (err error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.ensureReady(ctx); err != nil {
		return fail("update", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("update", collection, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insert := fmt.Sprintf("INSERT INTO %s (instance_id, collection) VALUES ($1, $2) ON CONFLICT DO NOTHING", s.table)
	if _, err := tx.ExecContext(ctx, insert, instance, collection); err != nil {
		return fail("update", collection, err)
	}

	query := fmt.Sprintf("SELECT records FROM %s WHERE instance_id = $1 AND collection = $2 FOR UPDATE", s.table)

	var payload string
	if err := tx.QueryRowContext(ctx, query, instance, collection).Scan(&payload); err != nil {
		return fail("update", collection, err)
	}

	records, err := decode(payload)
	if err != nil {
		return fail("update", collection, err)
	}

	updated, changed, err := fn(records)
	if err != nil {
		return err
	}

	if changed {
		encoded, err := encode(updated)
		if err != nil {
			return fail("update", collection, err)
		}

		stmt := fmt.Sprintf("UPDATE %s SET records = $3, updated_at = now() WHERE instance_id = $1 AND collection = $2", s.table)
		if _, err := tx.ExecContext(ctx, stmt, instance, collection, encoded); err != nil {
			return fail("update", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("update", collection, err)
	}

	return nil
}

// Close closes the database handle
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
