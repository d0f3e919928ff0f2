package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
)

func newCodeStore(t *testing.T) *CodeStore {
	t.Helper()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return NewCodeStore(cache.NewKeyStore(backend, zap.NewNop().Sugar()))
}

func TestIssueProducesSixDigits(t *testing.T) {
	cs := newCodeStore(t)

	code, err := cs.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

func TestIssueTooFrequentWhileCodeLive(t *testing.T) {
	cs := newCodeStore(t)

	_, err := cs.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)

	_, err = cs.Issue(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, ErrTooFrequent)

	// a different identity is unaffected
	_, err = cs.Issue(context.Background(), "c@d.com")
	assert.NoError(t, err)
}

func TestConsumeSingleUse(t *testing.T) {
	ctx := context.Background()
	cs := newCodeStore(t)

	code, err := cs.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	require.NoError(t, cs.Consume(ctx, "a@b.com", code))
	// the entry is deleted on match, so replay fails
	assert.ErrorIs(t, cs.Consume(ctx, "a@b.com", code), ErrCodeMismatch)
}

func TestConsumeWrongCodeKeepsEntry(t *testing.T) {
	ctx := context.Background()
	cs := newCodeStore(t)

	code, err := cs.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	assert.ErrorIs(t, cs.Consume(ctx, "a@b.com", "000000"), ErrCodeMismatch)
	// a failed attempt must not burn the real code
	assert.NoError(t, cs.Consume(ctx, "a@b.com", code))
}

func TestConsumeAbsentIdentity(t *testing.T) {
	cs := newCodeStore(t)
	assert.ErrorIs(t, cs.Consume(context.Background(), "nobody@b.com", "123456"), ErrCodeMismatch)
}

func TestCodeExpires(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	store := cache.NewKeyStore(backend, zap.NewNop().Sugar())
	cs := NewCodeStore(store)

	code, err := cs.Issue(ctx, "a@b.com")
	require.NoError(t, err)

	// shrink the entry's TTL instead of waiting ten minutes
	require.True(t, store.SetString(ctx, cache.EmailCodeKey("a@b.com"), code, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	assert.ErrorIs(t, cs.Consume(ctx, "a@b.com", code), ErrCodeMismatch)
	// expiry frees the identity for reissue
	_, err = cs.Issue(ctx, "a@b.com")
	assert.NoError(t, err)
}
