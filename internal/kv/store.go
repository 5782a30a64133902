// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kv provides the durable string key-value stores backing the relay.
package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/watchrelay/internal/metrics"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown store backend")

// Store is a string-keyed, string-valued durable store.
type Store interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries backend specific settings.
type Options struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	DialTimeout    time.Duration
}

// Open creates a Store for backend. An empty backend selects sqlite when dir
// is set and memory otherwise. dir is the data directory; each backend
// derives its own file or directory name below it.
func Open(backend, dir string, opts Options) (Store, error) {
	if backend == "" {
		backend = BackendSQLite
		if dir == "" {
			backend = BackendMemory
		}
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendFile:
		if dir == "" {
			return nil, fmt.Errorf("%s backend requires a data directory", backend)
		}
		s, err = OpenFileStore(filepath.Join(dir, "settings.json"))
	case BackendSQLite:
		if dir == "" {
			return nil, fmt.Errorf("%s backend requires a data directory", backend)
		}
		s, err = OpenSQLiteStore(filepath.Join(dir, "settings.sqlite"))
	case BackendBadger:
		if dir == "" {
			return nil, fmt.Errorf("%s backend requires a data directory", backend)
		}
		s, err = OpenBadgerStore(filepath.Join(dir, "badger"))
	case BackendRedis:
		s, err = OpenRedisStore(opts)
	default:
		return nil, fmt.Errorf("%w: %s (supported: memory, file, sqlite, badger, redis)", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}
	return Instrument(backend, s), nil
}

// Instrument wraps s so every operation is counted per backend.
func Instrument(backend string, s Store) Store {
	return &instrumented{backend: backend, inner: s}
}

type instrumented struct {
	backend string
	inner   Store
}

func (i *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := i.inner.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordStoreOp(i.backend, "get", "error")
	case !ok:
		metrics.RecordStoreOp(i.backend, "get", "miss")
	default:
		metrics.RecordStoreOp(i.backend, "get", "ok")
	}
	return v, ok, err
}

func (i *instrumented) Set(ctx context.Context, key, value string) error {
	err := i.inner.Set(ctx, key, value)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordStoreOp(i.backend, "set", outcome)
	return err
}

func (i *instrumented) Close() error { return i.inner.Close() }

// Ping forwards to the wrapped store when it supports liveness checks.
func (i *instrumented) Ping(ctx context.Context) error {
	if p, ok := i.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Backend reports the backend name of an instrumented store.
func (i *instrumented) Backend() string { return i.backend }

// Unwrap returns the underlying store.
func (i *instrumented) Unwrap() Store { return i.inner }
