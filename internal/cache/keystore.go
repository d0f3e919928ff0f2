package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Backend is the minimal keyspace primitive set the cache layer consumes.
// Production wires the redis implementation; tests and single-node dev use
// the in-memory one.
type Backend interface {
	// Get returns the raw stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// IncrWindow atomically increments the counter at key and, when this is
	// the first increment, starts the expiry window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}

// KeyStore is the JSON cache facade shared by every component. All
// operations are fail-soft: a backend error is logged and surfaces as a
// miss (Get) or a false success flag (Set/Delete), never as an error to
// the caller. No cache entry is a source of truth.
type KeyStore struct {
	backend Backend
	logger  *zap.SugaredLogger
}

func NewKeyStore(backend Backend, logger *zap.SugaredLogger) *KeyStore {
	return &KeyStore{backend: backend, logger: logger}
}

// Set JSON-encodes value and stores it under key with the given TTL.
func (s *KeyStore) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warnw("cache set: encode failed", "key", key, "err", err)
		return false
	}
	if err := s.backend.Set(ctx, key, string(raw), ttl); err != nil {
		s.logger.Warnw("cache set failed", "key", key, "err", err)
		return false
	}
	return true
}

// SetString stores a raw scalar string without JSON encoding. Verification
// codes use this path so a human can read them straight out of redis.
func (s *KeyStore) SetString(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warnw("cache set failed", "key", key, "err", err)
		return false
	}
	return true
}

// Get decodes the value stored under key into dest. Returns false when the
// key is absent, the backend fails, or the stored blob does not decode.
func (s *KeyStore) Get(ctx context.Context, key string, dest any) bool {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warnw("cache get failed", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Warnw("cache get: decode failed", "key", key, "err", err)
		return false
	}
	return true
}

// GetString returns the value under key as a string. A JSON-encoded string
// is unquoted; any other raw value is returned verbatim, which keeps legacy
// scalar entries (verification codes) readable.
func (s *KeyStore) GetString(ctx context.Context, key string) (string, bool) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warnw("cache get failed", "key", key, "err", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	var decoded string
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded, true
	}
	return raw, true
}

// Delete removes key. Deleting an absent key still counts as success;
// backend failures are logged and reported as false.
func (s *KeyStore) Delete(ctx context.Context, key string) bool {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warnw("cache delete failed", "key", key, "err", err)
		return false
	}
	return true
}

// IncrWindow exposes the backend counter primitive for the rate limiter.
func (s *KeyStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.backend.IncrWindow(ctx, key, window)
}
