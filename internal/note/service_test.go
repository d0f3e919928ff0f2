package note

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/note/entity"
)

// fakeRepo is an in-memory Repository that counts list/detail queries so
// tests can assert which reads were served from cache.
type fakeRepo struct {
	nextID  int64
	kbs     map[int64]*entity.KnowledgeBase
	notes   map[int64]*entity.Note
	authors map[int64]string

	getWithAuthorCalls int
	listKBCalls        int
	listGlobalCalls    int
	listAuthorCalls    int
	listKBListCalls    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nextID:  1,
		kbs:     map[int64]*entity.KnowledgeBase{},
		notes:   map[int64]*entity.Note{},
		authors: map[int64]string{},
	}
}

func (f *fakeRepo) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) CreateKnowledgeBase(_ context.Context, kb *entity.KnowledgeBase) (int64, error) {
	kb.ID = f.id()
	cp := *kb
	f.kbs[kb.ID] = &cp
	return kb.ID, nil
}

func (f *fakeRepo) GetKnowledgeBase(_ context.Context, id int64) (*entity.KnowledgeBase, error) {
	kb, ok := f.kbs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *kb
	return &cp, nil
}

func (f *fakeRepo) UpdateKnowledgeBase(_ context.Context, kb *entity.KnowledgeBase) error {
	f.kbs[kb.ID] = kb
	return nil
}

func (f *fakeRepo) DeleteKnowledgeBase(_ context.Context, id int64) error {
	delete(f.kbs, id)
	return nil
}

func (f *fakeRepo) ListKnowledgeBasesByUser(_ context.Context, userID int64) ([]entity.KnowledgeBase, error) {
	f.listKBListCalls++
	out := []entity.KnowledgeBase{}
	for _, kb := range f.kbs {
		if kb.UserID == userID {
			out = append(out, *kb)
		}
	}
	return out, nil
}

func (f *fakeRepo) NoteRefsByKB(_ context.Context, kbID int64) ([]entity.Ref, error) {
	refs := []entity.Ref{}
	for _, n := range f.notes {
		if n.KnowledgeBaseID == kbID {
			refs = append(refs, entity.Ref{ID: n.ID, ContentKey: n.ContentKey})
		}
	}
	return refs, nil
}

func (f *fakeRepo) DeleteNotesByKB(_ context.Context, kbID int64) error {
	for id, n := range f.notes {
		if n.KnowledgeBaseID == kbID {
			delete(f.notes, id)
		}
	}
	return nil
}

func (f *fakeRepo) CreateNote(_ context.Context, n *entity.Note) (int64, error) {
	n.ID = f.id()
	cp := *n
	f.notes[n.ID] = &cp
	return n.ID, nil
}

func (f *fakeRepo) GetNote(_ context.Context, id int64) (*entity.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *n
	return &cp, nil
}

func (f *fakeRepo) GetNoteWithAuthor(_ context.Context, id int64) (*entity.ListItem, error) {
	f.getWithAuthorCalls++
	n, ok := f.notes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &entity.ListItem{Note: *n, AuthorName: f.authors[n.UserID]}, nil
}

func (f *fakeRepo) UpdateNote(_ context.Context, n *entity.Note) error {
	cp := *n
	f.notes[n.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteNote(_ context.Context, id int64) error {
	delete(f.notes, id)
	return nil
}

func (f *fakeRepo) IncrementViewCount(_ context.Context, id int64) (int64, error) {
	n, ok := f.notes[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	n.ViewCount++
	return n.ViewCount, nil
}

func (f *fakeRepo) ListByKnowledgeBase(_ context.Context, kbID int64, filter entity.KBFilter, page, pageSize int) (int64, []entity.ListItem, error) {
	f.listKBCalls++
	items := []entity.ListItem{}
	for _, n := range f.notes {
		if n.KnowledgeBaseID != kbID {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		items = append(items, entity.ListItem{Note: *n, AuthorName: f.authors[n.UserID]})
	}
	return int64(len(items)), items, nil
}

func (f *fakeRepo) ListGlobal(_ context.Context, filter entity.GlobalFilter, page, pageSize int) (int64, []entity.ListItem, error) {
	f.listGlobalCalls++
	items := []entity.ListItem{}
	for _, n := range f.notes {
		if filter.Type != nil && n.Type != *filter.Type {
			continue
		}
		items = append(items, entity.ListItem{Note: *n})
	}
	return int64(len(items)), items, nil
}

func (f *fakeRepo) ListByAuthor(_ context.Context, userID int64) ([]entity.ListItem, error) {
	f.listAuthorCalls++
	items := []entity.ListItem{}
	for _, n := range f.notes {
		if n.UserID == userID {
			items = append(items, entity.ListItem{Note: *n})
		}
	}
	return items, nil
}

// fakeContent is an in-memory ContentStore.
type fakeContent struct {
	docs map[string]string
}

func newFakeContent() *fakeContent { return &fakeContent{docs: map[string]string{}} }

func (f *fakeContent) Put(_ context.Context, key, content string) error {
	f.docs[key] = content
	return nil
}

func (f *fakeContent) Get(_ context.Context, key string) (string, error) {
	c, ok := f.docs[key]
	if !ok {
		return "", ErrContentNotFound
	}
	return c, nil
}

func (f *fakeContent) Update(_ context.Context, key, content string) error {
	f.docs[key] = content
	return nil
}

func (f *fakeContent) Delete(_ context.Context, key string) error {
	delete(f.docs, key)
	return nil
}

func (f *fakeContent) DeleteMany(_ context.Context, keys []string) error {
	for _, k := range keys {
		delete(f.docs, k)
	}
	return nil
}

func (f *fakeContent) Close(context.Context) error { return nil }

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeContent, *cache.KeyStore) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	ks := cache.NewKeyStore(backend, logger)
	repo := newFakeRepo()
	content := newFakeContent()
	svc := NewService(repo, content, ks, cache.NewInvalidator(ks), logger)
	return svc, repo, content, ks
}

func seedNote(t *testing.T, svc *Service, repo *fakeRepo, authorID int64, body string) (*entity.KnowledgeBase, *entity.Note) {
	t.Helper()
	repo.authors[authorID] = "author"
	kb, err := svc.CreateKnowledgeBase(context.Background(), authorID, "kb", 0)
	require.NoError(t, err)
	n, err := svc.CreateNote(context.Background(), authorID, NoteInput{
		KnowledgeBaseID: kb.ID,
		Title:           "title",
		Content:         body,
	})
	require.NoError(t, err)
	return kb, n
}

func TestNoteDetailReadThrough(t *testing.T) {
	svc, repo, _, ks := newTestService(t)
	ctx := context.Background()
	_, n := seedNote(t, svc, repo, 7, "hello body")

	// drop the entry the create wrote through, as TTL expiry would
	ks.Delete(ctx, cache.NoteDetailKey(n.ID))

	callsBefore := repo.getWithAuthorCalls
	d, err := svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello body", d.Content)
	assert.Equal(t, "author", d.AuthorName)
	assert.Equal(t, int64(1), d.ViewCount)

	// second read must come from cache: no store queries, no counter bump
	again, err := svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.ViewCount)
	assert.Equal(t, callsBefore+1, repo.getWithAuthorCalls)
	assert.Equal(t, int64(1), repo.notes[n.ID].ViewCount)
}

func TestNoteDetailNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.NoteDetail(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNoteNotFound)
}

func TestCreateNoteWritesDetailThrough(t *testing.T) {
	svc, repo, content, ks := newTestService(t)
	ctx := context.Background()
	_, n := seedNote(t, svc, repo, 7, "T")

	assert.Equal(t, "T", content.docs[n.ContentKey])

	var cached entity.Detail
	require.True(t, ks.Get(ctx, cache.NoteDetailKey(n.ID), &cached))
	assert.Equal(t, "T", cached.Content)
	assert.Equal(t, n.ID, cached.ID)
}

func TestUpdateNoteContentRoundTrip(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	_, n := seedNote(t, svc, repo, 7, "before")

	_, err := svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateNoteContent(ctx, 7, n.ID, "T"))

	d, err := svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "T", d.Content)
}

func TestUpdateNoteContentLeavesListCaches(t *testing.T) {
	svc, repo, _, ks := newTestService(t)
	ctx := context.Background()
	kb, n := seedNote(t, svc, repo, 7, "body")

	// warm the kb listing, then update only the body
	_, err := svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateNoteContent(ctx, 7, n.ID, "new body"))

	var page entity.Page
	assert.True(t, ks.Get(ctx, cache.KnowledgeBaseNotesKey(kb.ID, 1), &page),
		"body-only update must not purge list caches")
}

func TestFilteredListingBypassesCache(t *testing.T) {
	svc, repo, _, ks := newTestService(t)
	ctx := context.Background()
	kb, _ := seedNote(t, svc, repo, 7, "body")

	status := entity.StatusPublic
	_, err := svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{Status: &status}, 1, DefaultPageSize)
	require.NoError(t, err)

	var page entity.Page
	assert.False(t, ks.Get(ctx, cache.KnowledgeBaseNotesKey(kb.ID, 1), &page),
		"filtered listing must not populate the canonical entry")

	// non-default page size bypasses too
	_, err = svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, 50)
	require.NoError(t, err)
	assert.False(t, ks.Get(ctx, cache.KnowledgeBaseNotesKey(kb.ID, 1), &page))

	// the unfiltered default-sized listing is cached and served back
	callsBefore := repo.listKBCalls
	_, err = svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)
	_, err = svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, callsBefore+1, repo.listKBCalls)
}

func TestGlobalListingCachedPerParameterTuple(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedNote(t, svc, repo, 7, "body")

	free := entity.TypeFree
	_, err := svc.ListNotes(ctx, entity.GlobalFilter{Type: &free}, 1, DefaultPageSize)
	require.NoError(t, err)
	calls := repo.listGlobalCalls

	// same tuple: cache hit
	_, err = svc.ListNotes(ctx, entity.GlobalFilter{Type: &free}, 1, DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.listGlobalCalls)

	// different tuple: its own entry, fresh query
	_, err = svc.ListNotes(ctx, entity.GlobalFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, calls+1, repo.listGlobalCalls)
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	svc, repo, content, ks := newTestService(t)
	ctx := context.Background()
	kb, n := seedNote(t, svc, repo, 7, "body one")
	n2, err := svc.CreateNote(ctx, 7, NoteInput{
		KnowledgeBaseID: kb.ID, Title: "second", Content: "body two",
	})
	require.NoError(t, err)

	// warm everything the delete must purge
	_, err = svc.ListKnowledgeBases(ctx, 7)
	require.NoError(t, err)
	_, err = svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)
	_, err = svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteKnowledgeBase(ctx, 7, kb.ID))

	assert.Empty(t, repo.notes, "note rows survive cascade")
	assert.Empty(t, repo.kbs, "kb row survives cascade")
	assert.Empty(t, content.docs, "note bodies survive cascade")

	var detail entity.Detail
	assert.False(t, ks.Get(ctx, cache.NoteDetailKey(n.ID), &detail))
	assert.False(t, ks.Get(ctx, cache.NoteDetailKey(n2.ID), &detail))
	var page entity.Page
	assert.False(t, ks.Get(ctx, cache.KnowledgeBaseNotesKey(kb.ID, 1), &page))
	var kbs []entity.KnowledgeBase
	assert.False(t, ks.Get(ctx, cache.KnowledgeBasesKey(7), &kbs))
}

func TestOwnershipEnforced(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	kb, n := seedNote(t, svc, repo, 7, "body")

	err := svc.UpdateNote(ctx, 8, n.ID, NoteInput{Title: "stolen"})
	assert.ErrorIs(t, err, ErrNotOwner)

	err = svc.DeleteKnowledgeBase(ctx, 8, kb.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.CreateNote(ctx, 8, NoteInput{KnowledgeBaseID: kb.ID, Title: "x"})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestDeleteNotePurgesAndRemovesBody(t *testing.T) {
	svc, repo, content, ks := newTestService(t)
	ctx := context.Background()
	kb, n := seedNote(t, svc, repo, 7, "body")

	_, err := svc.NoteDetail(ctx, n.ID)
	require.NoError(t, err)
	_, err = svc.KnowledgeBaseNotes(ctx, kb.ID, entity.KBFilter{}, 1, DefaultPageSize)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteNote(ctx, 7, n.ID))

	assert.Empty(t, content.docs)
	var detail entity.Detail
	assert.False(t, ks.Get(ctx, cache.NoteDetailKey(n.ID), &detail))
	var page entity.Page
	assert.False(t, ks.Get(ctx, cache.KnowledgeBaseNotesKey(kb.ID, 1), &page))
}

func TestUserNotesCached(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedNote(t, svc, repo, 7, "body")

	_, err := svc.UserNotes(ctx, 7)
	require.NoError(t, err)
	calls := repo.listAuthorCalls
	_, err = svc.UserNotes(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.listAuthorCalls)
}
