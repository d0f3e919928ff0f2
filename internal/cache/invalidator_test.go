package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seed(t *testing.T, store *KeyStore, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.True(t, store.Set(context.Background(), k, "cached", time.Hour))
	}
}

func present(store *KeyStore, key string) bool {
	var v string
	return store.Get(context.Background(), key, &v)
}

func TestInvalidatorUserScope(t *testing.T) {
	store := newTestStore(t)
	inv := NewInvalidator(store)

	seed(t, store,
		UserPermissionsKey(7), UserMenusKey(7), UserNotesKey(7),
		UserPermissionsKey(8))

	inv.UserScope(context.Background(), 7)

	assert.False(t, present(store, UserPermissionsKey(7)))
	assert.False(t, present(store, UserMenusKey(7)))
	assert.False(t, present(store, UserNotesKey(7)))
	// other users untouched
	assert.True(t, present(store, UserPermissionsKey(8)))
}

func TestInvalidatorNote(t *testing.T) {
	store := newTestStore(t)
	inv := NewInvalidator(store)

	seed(t, store,
		NoteDetailKey(42), UserNotesKey(3),
		KnowledgeBaseNotesKey(5, 1), KnowledgeBaseNotesKey(5, 10),
		KnowledgeBasesKey(3))

	inv.Note(context.Background(), 42, 3, 5)

	assert.False(t, present(store, NoteDetailKey(42)))
	assert.False(t, present(store, UserNotesKey(3)))
	assert.False(t, present(store, KnowledgeBaseNotesKey(5, 1)))
	assert.False(t, present(store, KnowledgeBaseNotesKey(5, 10)))
	// the owner's KB list does not embed notes
	assert.True(t, present(store, KnowledgeBasesKey(3)))
}

func TestInvalidatorNoteBodyTouchesDetailOnly(t *testing.T) {
	store := newTestStore(t)
	inv := NewInvalidator(store)

	seed(t, store, NoteDetailKey(42), UserNotesKey(3), KnowledgeBaseNotesKey(5, 1))

	inv.NoteBody(context.Background(), 42)

	assert.False(t, present(store, NoteDetailKey(42)))
	// list caches never embed body text, so they survive
	assert.True(t, present(store, UserNotesKey(3)))
	assert.True(t, present(store, KnowledgeBaseNotesKey(5, 1)))
}

func TestInvalidatorPagePurgeIsBounded(t *testing.T) {
	store := newTestStore(t)
	inv := NewInvalidator(store)

	beyond := KnowledgeBaseNotesKey(5, MaxCachedPages+1)
	seed(t, store, KnowledgeBaseNotesKey(5, 1), KnowledgeBaseNotesKey(5, MaxCachedPages), beyond)

	inv.KnowledgeBaseNotes(context.Background(), 5)

	assert.False(t, present(store, KnowledgeBaseNotesKey(5, 1)))
	assert.False(t, present(store, KnowledgeBaseNotesKey(5, MaxCachedPages)))
	// pages past the cap are left to expire on their TTL
	assert.True(t, present(store, beyond))
}

func TestInvalidatorKnowledgeBaseScope(t *testing.T) {
	store := newTestStore(t)
	inv := NewInvalidator(store)

	seed(t, store, KnowledgeBasesKey(3), KnowledgeBaseNotesKey(5, 2), UserNotesKey(3))

	inv.KnowledgeBaseScope(context.Background(), 3, 5)

	assert.False(t, present(store, KnowledgeBasesKey(3)))
	assert.False(t, present(store, KnowledgeBaseNotesKey(5, 2)))
	assert.False(t, present(store, UserNotesKey(3)))
}

func TestInvalidatorSwallowsBackendFailure(t *testing.T) {
	store := NewKeyStore(failingBackend{}, zap.NewNop().Sugar())
	inv := NewInvalidator(store)

	// a cache outage during invalidation must not panic or propagate
	inv.UserScope(context.Background(), 1)
	inv.Note(context.Background(), 1, 2, 3)
	inv.KnowledgeBaseScope(context.Background(), 2, 3)
}
