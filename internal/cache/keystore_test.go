package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *KeyStore {
	t.Helper()
	backend := NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return NewKeyStore(backend, zap.NewNop().Sugar())
}

func TestKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.True(t, store.Set(ctx, "k", payload{Name: "a", Count: 3}, time.Minute))

	var got payload
	require.True(t, store.Get(ctx, "k", &got))
	assert.Equal(t, payload{Name: "a", Count: 3}, got)
}

func TestKeyStoreMissReturnsFalse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var got string
	assert.False(t, store.Get(ctx, "absent", &got))

	_, ok := store.GetString(ctx, "absent")
	assert.False(t, ok)
}

func TestKeyStoreRawStringTolerated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Legacy scalar values (verification codes) are stored without JSON
	// encoding and must come back verbatim.
	require.True(t, store.SetString(ctx, "email_a@b.com", "123456", time.Minute))

	got, ok := store.GetString(ctx, "email_a@b.com")
	require.True(t, ok)
	assert.Equal(t, "123456", got)
}

func TestKeyStoreGetStringUnquotesJSON(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.True(t, store.Set(ctx, "k", "hello", time.Minute))

	got, ok := store.GetString(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestKeyStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Set(ctx, "k", 1, time.Minute)
	assert.True(t, store.Delete(ctx, "k"))

	var got int
	assert.False(t, store.Get(ctx, "k", &got))

	// deleting an absent key is still a success
	assert.True(t, store.Delete(ctx, "k"))
}

func TestKeyStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	var got string
	assert.False(t, store.Get(ctx, "k", &got))
}

// failingBackend simulates a cache outage on every call.
type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errBackendDown
}
func (failingBackend) Set(context.Context, string, string, time.Duration) error {
	return errBackendDown
}
func (failingBackend) Delete(context.Context, string) error { return errBackendDown }
func (failingBackend) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errBackendDown
}
func (failingBackend) Close() error { return nil }

func TestKeyStoreFailSoft(t *testing.T) {
	ctx := context.Background()
	store := NewKeyStore(failingBackend{}, zap.NewNop().Sugar())

	// Backend errors are swallowed: sets/deletes report false, gets behave
	// as misses, nothing panics or escalates.
	assert.False(t, store.Set(ctx, "k", "v", time.Minute))
	assert.False(t, store.SetString(ctx, "k", "v", time.Minute))
	assert.False(t, store.Delete(ctx, "k"))

	var got string
	assert.False(t, store.Get(ctx, "k", &got))
	_, ok := store.GetString(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryBackendIncrWindow(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	defer backend.Close()

	for want := int64(1); want <= 5; want++ {
		got, err := backend.IncrWindow(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryBackendIncrWindowResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	defer backend.Close()

	_, err := backend.IncrWindow(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	got, err := backend.IncrWindow(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}
