// Copyright 2024. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the mock server configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"httpmock/expectation"
	"httpmock/redis"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// DefaultHost is the listen address when none is configured
const DefaultHost = "127.0.0.1:8082"

// File is the configuration file layout
type File struct {
	Host         string  `yaml:"host"`
	InstanceID   string  `yaml:"instance_id"`
	Debug        bool    `yaml:"debug"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	Storage      Storage `yaml:"storage"`

	// Expectations are added at startup, the last entry being evaluated first
	Expectations []expectation.Expectation `yaml:"expectations"`
}

// Storage selects and configures the collection store
type Storage struct {
	Driver   string   `yaml:"driver"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
}

// Redis backend settings
type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Postgres backend settings
type Postgres struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Default returns the configuration used without a file
func Default() File {
	f := File{
		Host:       DefaultHost,
		InstanceID: os.Getenv("HTTPMOCK_INSTANCE_ID"),
		Storage: Storage{
			Driver:   DriverMemory,
			Redis:    Redis{Addr: "localhost:6379"},
			Postgres: Postgres{DSN: os.Getenv("HTTPMOCK_POSTGRES_DSN")},
		},
	}

	// An invalid REDIS_DB leaves the redis defaults in place
	if opts, err := redis.OptionsFromEnv(); err == nil {
		f.Storage.Redis = Redis{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}

	return f
}

// Load reads filename on top of the defaults. Environment variables in the
// file are expanded before decoding.
func Load(filename string) (File, error) {
	conf := Default()

	data, err := os.ReadFile(filename) //nolint:gosec
	if err != nil {
		return conf, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.UnmarshalStrict(data, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config file: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the driver and every seed expectation
func (f File) Validate() error {
	if f.Host == "" {
		return fmt.Errorf("host must not be empty")
	}

	switch f.Storage.Driver {
	case "", DriverMemory:
	case DriverRedis:
		if f.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis driver")
		}
	case DriverPostgres:
		if f.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", f.Storage.Driver)
	}

	for i := range f.Expectations {
		if err := f.Expectations[i].Validate(); err != nil {
			return fmt.Errorf("expectations[%d]: %w", i, err)
		}
	}

	return nil
}
