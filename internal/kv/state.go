// Package kv wraps the NATS KV buckets behind the job queue and the service's
// own records: service state, cycles, unique locks and the transfer journal.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// casAttempts bounds how often UpdateJSON retries on a revision conflict.
const casAttempts = 5

// Store is a thin byte and JSON view over one KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps bucket.
func NewStore(bucket jetstream.KeyValue) *Store {
	return &Store{kv: bucket}
}

// IsNotFound reports whether err means the key is absent or was deleted.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// Get returns the value at key and its revision.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Put writes value at key unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Put(ctx, key, value)
}

// Create writes value only when key is absent; otherwise it fails with
// jetstream.ErrKeyExists.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Create(ctx, key, value)
}

// Update writes value only when key is still at revision.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.kv.Update(ctx, key, value, revision)
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Keys lists the bucket. An empty bucket yields nil.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// Exists reports whether key currently holds a value.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, err := s.kv.Get(ctx, key)
	return err == nil
}

// GetJSON decodes the value at key into v and returns its revision.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return rev, nil
}

// PutJSON encodes v and writes it at key.
func (s *Store) PutJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := encode(key, v)
	if err != nil {
		return 0, err
	}
	return s.Put(ctx, key, data)
}

// CreateJSON encodes v and writes it only when key is absent.
func (s *Store) CreateJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, err := encode(key, v)
	if err != nil {
		return 0, err
	}
	return s.Create(ctx, key, data)
}

// UpdateJSON loads key into target, lets mutate change it in place and
// writes it back guarded by the loaded revision. An absent key is created
// from whatever mutate leaves in target.
func (s *Store) UpdateJSON(ctx context.Context, key string, target any, mutate func()) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		rev, err := s.GetJSON(ctx, key, target)
		switch {
		case IsNotFound(err):
			mutate()
			_, lastErr = s.CreateJSON(ctx, key, target)
		case err != nil:
			return err
		default:
			mutate()
			var data []byte
			if data, err = encode(key, target); err != nil {
				return err
			}
			_, lastErr = s.Update(ctx, key, data, rev)
		}
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("update %s: %w", key, lastErr)
}

func encode(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return data, nil
}
